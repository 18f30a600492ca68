package identity_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	sqliteCreateClients = `CREATE TABLE login_clients (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL,
    redirect_urls TEXT,
    secret_hashes TEXT,
    requires_secret INTEGER NOT NULL DEFAULT 0,
    is_internal INTEGER NOT NULL DEFAULT 0,
    valid_scopes TEXT,
    client_credential_flow_user TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP
);`
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
    updated_at TIMESTAMP,
    FOREIGN KEY (strategy_instance_id) REFERENCES strategy_instances (id)
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
    updated_at TIMESTAMP,
    FOREIGN KEY (strategy_instance_id) REFERENCES strategy_instances (id),
    FOREIGN KEY (login_data_id) REFERENCES user_login_data (id)
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
    updated_at TIMESTAMP,
    FOREIGN KEY (active_login_id) REFERENCES active_logins (id)
);`
	sqliteCreateAccessFingerprintIndex = "CREATE UNIQUE INDEX idx_active_login_accesses_fingerprint ON active_login_accesses (code_fingerprint);"
)

func setupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	for _, ddl := range []string{
		sqliteCreateClients,
		sqliteCreateInstances,
		sqliteCreateCredentials,
		sqliteCreateLogins,
		sqliteCreateAccesses,
		sqliteCreateAccessFingerprintIndex,
	} {
		_, err = bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return bunDB, cleanup
}

func testConfig() *identity.Config {
	return &identity.Config{
		SigningSecret:        "test-signing-secret-0123456789abcdef",
		Issuer:               "go-identity-test",
		SlidingWindow:        time.Hour,
		MaxSessionLifetime:   24 * time.Hour,
		AccessTokenTTL:       10 * time.Minute,
		RegistrationTokenTTL: 15 * time.Minute,
		AuthCodeTTL:          5 * time.Minute,
		BcryptCost:           4,
	}
}

// broker bundles the wired services most tests need.
type broker struct {
	repo     identity.RepositoryManager
	db       *bun.DB
	cfg      *identity.Config
	sessions *identity.SessionManager
	tokens   *identity.TokenServiceImpl
}

func setupBroker(t *testing.T) (*broker, func()) {
	t.Helper()

	db, cleanup := setupTestDB(t)
	cfg := testConfig()
	repo := identity.NewRepositoryManager(db)
	sessions := identity.NewSessionManager(repo, cfg)
	tokens := identity.NewTokenService(cfg, nil)

	return &broker{
		repo:     repo,
		db:       db,
		cfg:      cfg,
		sessions: sessions,
		tokens:   tokens,
	}, cleanup
}

func createTestInstance(t *testing.T, b *broker) *identity.StrategyInstance {
	t.Helper()

	instance, err := b.repo.StrategyInstances().Create(context.Background(), &identity.StrategyInstance{
		Name:                 "primary",
		Type:                 "userpass",
		InstanceConfig:       map[string]any{"min_password_length": 8},
		IsLoginActive:        true,
		IsSelfRegisterActive: true,
	})
	require.NoError(t, err)
	return instance
}

func createValidCredential(t *testing.T, b *broker, instanceID, userID uuid.UUID) *identity.UserLoginData {
	t.Helper()

	credential, err := b.repo.Credentials().Create(context.Background(), &identity.UserLoginData{
		UserID:             &userID,
		StrategyInstanceID: instanceID,
		Data:               map[string]any{"username": "hollis"},
		State:              identity.CredentialValid,
	})
	require.NoError(t, err)
	return credential
}

func createPendingCredential(t *testing.T, b *broker, instanceID uuid.UUID, expiresAt time.Time) *identity.UserLoginData {
	t.Helper()

	credential, err := b.repo.Credentials().Create(context.Background(), &identity.UserLoginData{
		StrategyInstanceID: instanceID,
		Data:               map[string]any{"username": "newcomer"},
		State:              identity.CredentialWaitingForRegister,
		ExpiresAt:          &expiresAt,
	})
	require.NoError(t, err)
	return credential
}
