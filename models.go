package identity

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CredentialState is the lifecycle state of a UserLoginData record
type CredentialState = string

const (
	// CredentialValid means the credential is registered and bound to a user
	CredentialValid CredentialState = "VALID"
	// CredentialWaitingForRegister means the strategy matched a new external
	// identity and the credential awaits user creation or linking
	CredentialWaitingForRegister CredentialState = "WAITING_FOR_REGISTER"
	// CredentialBlocked means the credential is administratively disabled
	CredentialBlocked CredentialState = "BLOCKED"
)

// RefreshCounterUnissued is the sentinel counter value of an access grant
// that has not issued a refresh token yet.
const RefreshCounterUnissued int64 = -1

// Client is an OAuth-style relying party. Built-in internal clients are
// compiled in (see ClientRegistry); persisted clients live in this table.
type Client struct {
	bun.BaseModel `bun:"table:login_clients,alias:lc"`

	ID   uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name string    `bun:"name,notnull" json:"name,omitempty"`
	// RedirectURLs is the exact-match allow-list for browser flows. Must be
	// non-empty unless the client is internal.
	RedirectURLs []string `bun:"redirect_urls,type:jsonb" json:"redirect_urls,omitempty"`
	// SecretHashes holds zero or more bcrypt hashes; a presented secret
	// matching any of them authenticates the client.
	SecretHashes   []string `bun:"secret_hashes,type:jsonb" json:"-"`
	RequiresSecret bool     `bun:"requires_secret,notnull" json:"requires_secret,omitempty"`
	IsInternal     bool     `bun:"is_internal,notnull" json:"is_internal,omitempty"`
	// ValidScopes is the allow-list of scope tokens the client may request.
	ValidScopes []string `bun:"valid_scopes,type:jsonb" json:"valid_scopes,omitempty"`
	// ClientCredentialFlowUser, when set, is the user the client_credentials
	// grant acts as.
	ClientCredentialFlowUser *uuid.UUID `bun:"client_credential_flow_user,type:uuid" json:"client_credential_flow_user,omitempty"`
	CreatedAt                *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt                *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt                *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// HasScope reports whether the scope is on the client's allow-list.
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.ValidScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AllowsRedirect reports whether the URI is on the client's redirect
// allow-list. Matching is exact, never prefix-based.
func (c *Client) AllowsRedirect(uri string) bool {
	for _, u := range c.RedirectURLs {
		if u == uri {
			return true
		}
	}
	return false
}

// SecretHint returns the loggable form of a client secret. Only the length
// is disclosed; no part of the secret itself reaches the logs.
func SecretHint(secret string) string {
	if secret == "" {
		return "empty"
	}
	return strconv.Itoa(len(secret)) + " chars"
}

// StrategyInstance is one configured backend of a strategy type. The type is
// immutable once created; the config may be updated through the strategy's
// own validator.
type StrategyInstance struct {
	bun.BaseModel `bun:"table:strategy_instances,alias:si"`

	ID   uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name string    `bun:"name,notnull" json:"name,omitempty"`
	Type string    `bun:"type,notnull" json:"type,omitempty"`
	// InstanceConfig is strategy-owned. It is only ever written after
	// passing the strategy's CheckAndExtendInstanceConfig.
	InstanceConfig       map[string]any `bun:"instance_config,type:jsonb" json:"instance_config,omitempty"`
	IsLoginActive        bool           `bun:"is_login_active,notnull" json:"is_login_active,omitempty"`
	IsSelfRegisterActive bool           `bun:"is_self_register_active,notnull" json:"is_self_register_active,omitempty"`
	IsSyncActive         bool           `bun:"is_sync_active,notnull" json:"is_sync_active,omitempty"`
	DoesImplicitRegister bool           `bun:"does_implicit_register,notnull" json:"does_implicit_register,omitempty"`
	CreatedAt            *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt            *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// UserLoginData is one authentication method bound to zero-or-one user.
// Invariant: State == VALID implies UserID is set, State ==
// WAITING_FOR_REGISTER implies UserID is absent.
type UserLoginData struct {
	bun.BaseModel `bun:"table:user_login_data,alias:uld"`

	ID                 uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID             *uuid.UUID `bun:"user_id,type:uuid" json:"user_id,omitempty"`
	StrategyInstanceID uuid.UUID  `bun:"strategy_instance_id,notnull,type:uuid" json:"strategy_instance_id,omitempty"`
	// Data is the strategy-defined payload (hashed password, upstream
	// subject id). Each strategy documents its own key set.
	Data  map[string]any  `bun:"data,type:jsonb" json:"data,omitempty"`
	State CredentialState `bun:"state,notnull" json:"state,omitempty"`
	// ExpiresAt bounds how long a WAITING_FOR_REGISTER credential may stay
	// pending. Nil once registered.
	ExpiresAt *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// CheckStateInvariant verifies the state/user binding rules.
func (d *UserLoginData) CheckStateInvariant() error {
	switch d.State {
	case CredentialValid:
		if d.UserID == nil {
			return NewConfigurationError("valid credential must have an assigned user")
		}
	case CredentialWaitingForRegister:
		if d.UserID != nil {
			return NewConfigurationError("pending credential must not have an assigned user")
		}
	}
	return nil
}

// IsExpired reports whether a pending credential has outlived its window.
func (d *UserLoginData) IsExpired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// ActiveLogin is one successful authentication event. It is destroyed by
// flag (IsValid=false), never physically deleted by the broker; expired rows
// persist until an external maintenance job reaps them.
type ActiveLogin struct {
	bun.BaseModel `bun:"table:active_logins,alias:al"`

	ID      uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IsValid bool      `bun:"is_valid,notnull" json:"is_valid,omitempty"`
	// SupportsSync is set when the login was produced by a sync-registering
	// function against a sync-capable strategy.
	SupportsSync bool `bun:"supports_sync,notnull" json:"supports_sync,omitempty"`
	// ExpiresAt is a sliding window, re-extended on use and capped at
	// CreatedAt + MaxSessionLifetime.
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	// Data is per-event strategy payload, e.g. upstream tokens.
	Data               map[string]any `bun:"data,type:jsonb" json:"data,omitempty"`
	StrategyInstanceID uuid.UUID      `bun:"strategy_instance_id,notnull,type:uuid" json:"strategy_instance_id,omitempty"`
	// LoginDataID references the credential this event authenticates. Nil
	// only while a pending registration has not completed.
	LoginDataID *uuid.UUID `bun:"login_data_id,type:uuid" json:"login_data_id,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at,omitempty"`
	UpdatedAt   *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsUsable reports whether the login may still be exercised.
func (l *ActiveLogin) IsUsable(now time.Time) bool {
	return l.IsValid && now.Before(l.ExpiresAt)
}

// ActiveLoginAccess is one relying party's grant derived from exactly one
// ActiveLogin. Exclusively owned: deleting the login cascades.
type ActiveLoginAccess struct {
	bun.BaseModel `bun:"table:active_login_accesses,alias:ala"`

	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ActiveLoginID uuid.UUID `bun:"active_login_id,notnull,type:uuid" json:"active_login_id,omitempty"`
	ClientID      uuid.UUID `bun:"client_id,notnull,type:uuid" json:"client_id,omitempty"`
	IsValid       bool      `bun:"is_valid,notnull" json:"is_valid,omitempty"`
	// RefreshTokenCounter starts at RefreshCounterUnissued and advances by
	// one per rotation. Any presented counter that does not match the stored
	// value permanently invalidates the grant.
	RefreshTokenCounter int64 `bun:"refresh_token_counter,notnull" json:"refresh_token_counter,omitempty"`
	// CodeFingerprint is the fingerprint of the authorization code that
	// created this grant, so the code itself cannot be replayed.
	CodeFingerprint string `bun:"code_fingerprint,notnull" json:"code_fingerprint,omitempty"`
	// Scope is the space-delimited scope granted at code exchange; refresh
	// grants re-issue exactly this scope.
	Scope     string     `bun:"scope" json:"scope,omitempty"`
	CreatedAt time.Time  `bun:"created_at,notnull" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}
