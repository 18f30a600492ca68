package strategy_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/strategy"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	sqliteCreateInstances = `CREATE TABLE strategy_instances (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    instance_config TEXT,
    is_login_active INTEGER NOT NULL DEFAULT 0,
    is_self_register_active INTEGER NOT NULL DEFAULT 0,
    is_sync_active INTEGER NOT NULL DEFAULT 0,
    does_implicit_register INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP
);`
	sqliteCreateCredentials = `CREATE TABLE user_login_data (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT,
    strategy_instance_id TEXT NOT NULL,
    data TEXT,
    state TEXT NOT NULL,
    expires_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP
);`
	sqliteCreateLogins = `CREATE TABLE active_logins (
    id TEXT NOT NULL PRIMARY KEY,
    is_valid INTEGER NOT NULL DEFAULT 0,
    supports_sync INTEGER NOT NULL DEFAULT 0,
    expires_at TIMESTAMP NOT NULL,
    data TEXT,
    strategy_instance_id TEXT NOT NULL,
    login_data_id TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP
);`
	sqliteCreateAccesses = `CREATE TABLE active_login_accesses (
    id TEXT NOT NULL PRIMARY KEY,
    active_login_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    is_valid INTEGER NOT NULL DEFAULT 0,
    refresh_token_counter INTEGER NOT NULL DEFAULT -1,
    code_fingerprint TEXT NOT NULL,
    scope TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP
);`
)

type testStack struct {
	repo     identity.RepositoryManager
	sessions *identity.SessionManager
	tokens   *identity.TokenServiceImpl
	cfg      *identity.Config
}

func setupStack(t *testing.T) (*testStack, func()) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	for _, ddl := range []string{
		sqliteCreateInstances,
		sqliteCreateCredentials,
		sqliteCreateLogins,
		sqliteCreateAccesses,
	} {
		_, err = bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	cfg := &identity.Config{
		SigningSecret:        "test-signing-secret-0123456789abcdef",
		Issuer:               "go-identity-test",
		SlidingWindow:        time.Hour,
		MaxSessionLifetime:   24 * time.Hour,
		AccessTokenTTL:       10 * time.Minute,
		RegistrationTokenTTL: 15 * time.Minute,
		AuthCodeTTL:          5 * time.Minute,
		BcryptCost:           4,
	}

	repo := identity.NewRepositoryManager(bunDB)
	stack := &testStack{
		repo:     repo,
		sessions: identity.NewSessionManager(repo, cfg),
		tokens:   identity.NewTokenService(cfg, nil),
		cfg:      cfg,
	}

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return stack, cleanup
}

// scriptedStrategy plays back a canned result so pipeline behavior can be
// exercised without a real backend.
type scriptedStrategy struct {
	typeName string
	caps     strategy.Capabilities
	result   *strategy.AuthResult
	err      error
	calls    int
}

var _ strategy.Strategy = (*scriptedStrategy)(nil)

func (s *scriptedStrategy) Type() string { return s.typeName }

func (s *scriptedStrategy) Capabilities() strategy.Capabilities { return s.caps }

func (s *scriptedStrategy) CheckAndExtendInstanceConfig(rawConfig map[string]any) (map[string]any, error) {
	if rawConfig == nil {
		return map[string]any{}, nil
	}
	return rawConfig, nil
}

func (s *scriptedStrategy) PerformAuth(_ context.Context, _ *identity.StrategyInstance, _ strategy.AuthRequest) (*strategy.AuthResult, error) {
	s.calls++
	return s.result, s.err
}

func (s *scriptedStrategy) DescribeCredential(*identity.UserLoginData) string {
	return "scripted credential"
}

func createInstance(t *testing.T, stack *testStack, record *identity.StrategyInstance) *identity.StrategyInstance {
	t.Helper()

	instance, err := stack.repo.StrategyInstances().Create(context.Background(), record)
	require.NoError(t, err)
	return instance
}
