package oauth_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/oauth"
	"github.com/goliatone/go-identity/strategy"
	"github.com/goliatone/go-identity/strategy/userpass"
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
	sqliteCreateAccessFingerprintIndex = "CREATE UNIQUE INDEX idx_active_login_accesses_fingerprint ON active_login_accesses (code_fingerprint);"
)

type fakeDirectory struct {
	users     map[uuid.UUID]identity.UserProfile
	usernames map[string]uuid.UUID
	admins    map[uuid.UUID]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:     map[uuid.UUID]identity.UserProfile{},
		usernames: map[string]uuid.UUID{},
		admins:    map[uuid.UUID]bool{},
	}
}

func (d *fakeDirectory) addUser(id uuid.UUID, username string) {
	d.users[id] = identity.UserProfile{Username: username}
	d.usernames[username] = id
}

func (d *fakeDirectory) UserExists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := d.users[id]
	return ok, nil
}

func (d *fakeDirectory) CreateUser(_ context.Context, profile identity.UserProfile, _ bool) (uuid.UUID, error) {
	id := uuid.New()
	d.users[id] = profile
	d.usernames[profile.Username] = id
	return id, nil
}

func (d *fakeDirectory) FindUserByUsername(_ context.Context, username string) (uuid.UUID, error) {
	if id, ok := d.usernames[username]; ok {
		return id, nil
	}
	return uuid.Nil, identity.ErrCredentialMissing
}

func (d *fakeDirectory) IsAdmin(_ context.Context, id uuid.UUID) (bool, error) {
	return d.admins[id], nil
}

// brokerStack wires the full token path: storage, sessions, tokens, client
// registry, strategy executor and issuer.
type brokerStack struct {
	db        *bun.DB
	cfg       *identity.Config
	repo      identity.RepositoryManager
	sessions  *identity.SessionManager
	tokens    *identity.TokenServiceImpl
	hasher    identity.Hasher
	clients   *identity.ClientRegistry
	exec      *strategy.Executor
	issuer    *oauth.Issuer
	directory *fakeDirectory
	validator *identity.RegistrationTokenValidator

	internalClient   *identity.Client
	restrictedClient *identity.Client
	instance         *identity.StrategyInstance
}

func setupIssuer(t *testing.T) (*brokerStack, func()) {
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
	sessions := identity.NewSessionManager(repo, cfg)
	tokens := identity.NewTokenService(cfg, nil)
	hasher := identity.NewHasher(cfg.BcryptCost)

	secretHash, err := hasher.Hash("restricted-secret")
	require.NoError(t, err)

	internal := &identity.Client{
		ID:   uuid.New(),
		Name: "console",
	}
	restricted := &identity.Client{
		ID:             uuid.New(),
		Name:           "partner",
		RedirectURLs:   []string{"https://partner.example.com/callback"},
		SecretHashes:   []string{secretHash},
		RequiresSecret: true,
		ValidScopes:    []string{"read", "write"},
	}
	_, err = repo.Clients().Create(context.Background(), restricted)
	require.NoError(t, err)

	registry := identity.NewClientRegistry(repo.Clients(), hasher, internal)

	strategies, err := strategy.NewRegistry(userpass.New(repo.Credentials(), hasher))
	require.NoError(t, err)

	exec := strategy.NewExecutor(strategies, repo, sessions, tokens, cfg)

	instance, err := repo.StrategyInstances().Create(context.Background(), &identity.StrategyInstance{
		Name:                 "primary",
		Type:                 userpass.StrategyType,
		InstanceConfig:       map[string]any{"min_password_length": 8},
		IsLoginActive:        true,
		IsSelfRegisterActive: true,
	})
	require.NoError(t, err)

	stack := &brokerStack{
		db:               bunDB,
		cfg:              cfg,
		repo:             repo,
		sessions:         sessions,
		tokens:           tokens,
		hasher:           hasher,
		clients:          registry,
		exec:             exec,
		issuer:           oauth.NewIssuer(registry, repo, sessions, tokens, exec),
		directory:        newFakeDirectory(),
		validator:        identity.NewRegistrationTokenValidator(repo, tokens, sessions),
		internalClient:   internal,
		restrictedClient: restricted,
		instance:         instance,
	}

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return stack, cleanup
}

// seedUserCredential provisions a directory user with a password credential
// on the default strategy instance.
func seedUserCredential(t *testing.T, stack *brokerStack, username, password string) (uuid.UUID, *identity.UserLoginData) {
	t.Helper()

	userID := uuid.New()
	stack.directory.addUser(userID, username)

	hash, err := stack.hasher.Hash(password)
	require.NoError(t, err)

	credential, err := stack.repo.Credentials().Create(context.Background(), &identity.UserLoginData{
		UserID:             &userID,
		StrategyInstanceID: stack.instance.ID,
		State:              identity.CredentialValid,
		Data: map[string]any{
			userpass.DataKeyUsername:     username,
			userpass.DataKeyPasswordHash: hash,
		},
	})
	require.NoError(t, err)

	return userID, credential
}

// issueCode runs a login for the credential and mints an authorization code
// for the client, the way LoginPost does.
func issueCode(t *testing.T, stack *brokerStack, client *identity.Client, credentialID uuid.UUID, scopes []string) (string, *identity.ActiveLogin) {
	t.Helper()

	login, err := stack.sessions.CreateLogin(context.Background(), stack.instance, &credentialID, false, nil)
	require.NoError(t, err)

	code, err := stack.tokens.IssueAuthorizationCode(login.ID, client.ID, scopes)
	require.NoError(t, err)

	return code, login
}
