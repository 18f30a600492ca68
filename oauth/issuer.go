package oauth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/strategy"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Grant types accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
)

// TokenResponse is the wire shape of a successful token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// TokenRequest carries the decoded token endpoint parameters. Which fields
// are required depends on the grant type.
type TokenRequest struct {
	GrantType    string `json:"grant_type" form:"grant_type"`
	ClientID     string `json:"client_id" form:"client_id"`
	ClientSecret string `json:"client_secret" form:"client_secret"`
	Code         string `json:"code" form:"code"`
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
	Scope        string `json:"scope" form:"scope"`
	// Username, Password and StrategyInstanceID drive the password grant,
	// which routes through a username/password strategy instance.
	Username           string `json:"username" form:"username"`
	Password           string `json:"password" form:"password"`
	StrategyInstanceID string `json:"strategy_instance_id" form:"strategy_instance_id"`
}

// Validate checks the fields the requested grant type needs.
func (r TokenRequest) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&r.GrantType, validation.Required, validation.In(
			GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials, GrantPassword,
		)),
		validation.Field(&r.ClientID, validation.Required),
	}

	switch r.GrantType {
	case GrantAuthorizationCode:
		rules = append(rules, validation.Field(&r.Code, validation.Required))
	case GrantRefreshToken:
		rules = append(rules, validation.Field(&r.RefreshToken, validation.Required))
	case GrantClientCredentials:
		rules = append(rules, validation.Field(&r.ClientSecret, validation.Required))
	case GrantPassword:
		rules = append(rules,
			validation.Field(&r.Username, validation.Required),
			validation.Field(&r.Password, validation.Required),
			validation.Field(&r.StrategyInstanceID, validation.Required),
		)
	}

	return validation.ValidateStruct(&r, rules...)
}

// Issuer implements the token endpoint grants on top of the session and
// token services.
type Issuer struct {
	clients  *identity.ClientRegistry
	repo     identity.RepositoryManager
	sessions *identity.SessionManager
	tokens   identity.TokenService
	exec     *strategy.Executor
	logger   identity.Logger
}

// NewIssuer wires the token endpoint. The executor may be nil when the
// password grant is not offered.
func NewIssuer(clients *identity.ClientRegistry, repo identity.RepositoryManager, sessions *identity.SessionManager, tokens identity.TokenService, exec *strategy.Executor) *Issuer {
	return &Issuer{
		clients:  clients,
		repo:     repo,
		sessions: sessions,
		tokens:   tokens,
		exec:     exec,
		logger:   identity.DefaultLogger(),
	}
}

// WithLogger sets the logger used by the issuer
func (i *Issuer) WithLogger(logger identity.Logger) *Issuer {
	if logger != nil {
		i.logger = logger
	}
	return i
}

// Token authenticates the client and dispatches the grant.
func (i *Issuer) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid token request").
			WithTextCode("INVALID_TOKEN_REQUEST")
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		return nil, identity.ErrClientNotFound
	}

	client, err := i.clients.FindClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if err := i.clients.VerifySecret(client, req.ClientSecret); err != nil {
		i.logger.Warn("client %s presented a bad secret (%s)", client.ID, identity.SecretHint(req.ClientSecret))
		return nil, err
	}

	switch req.GrantType {
	case GrantAuthorizationCode:
		return i.authorizationCodeGrant(ctx, client, req.Code)
	case GrantRefreshToken:
		return i.refreshTokenGrant(ctx, client, req.RefreshToken)
	case GrantClientCredentials:
		return i.clientCredentialsGrant(ctx, client, req.Scope)
	case GrantPassword:
		return i.passwordGrant(ctx, client, req)
	}

	return nil, identity.ErrFunctionNotAllowed
}

// authorizationCodeGrant exchanges a one-time authorization code for the
// first token pair of a fresh access grant. A second exchange of the same
// code invalidates the grant the first exchange created.
func (i *Issuer) authorizationCodeGrant(ctx context.Context, client *identity.Client, code string) (*TokenResponse, error) {
	claims, err := i.tokens.ValidateAuthorizationCode(code, client.ID)
	if err != nil {
		return nil, err
	}

	scopes := claims.Scopes()
	if err := i.clients.ValidateScopeRequest(client, scopes); err != nil {
		return nil, err
	}

	fingerprint, err := CodeFingerprint(code)
	if err != nil {
		return nil, err
	}

	if prior, err := i.repo.Accesses().FindByCodeFingerprint(ctx, fingerprint); err == nil {
		i.logger.Warn("authorization code replay for access %s, invalidating grant", prior.ID)
		txErr := i.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return i.repo.Accesses().InvalidateTx(ctx, tx, prior.ID)
		})
		if txErr != nil {
			return nil, txErr
		}
		return nil, identity.ErrInvalidToken
	} else if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	loginID, err := uuid.Parse(claims.LoginID)
	if err != nil {
		return nil, identity.ErrInvalidToken
	}

	login, err := i.repo.ActiveLogins().GetByID(ctx, loginID)
	if err != nil {
		return nil, identity.ErrSessionExpired
	}
	if err := i.sessions.AssertUsable(login); err != nil {
		return nil, err
	}

	userID, err := i.resolveLoginUser(ctx, login)
	if err != nil {
		return nil, err
	}

	access, err := i.sessions.CreateAccess(ctx, login, client.ID, fingerprint, claims.Scope)
	if err != nil {
		return nil, err
	}

	return i.mintPair(ctx, access.ID, userID, client.ID, scopes, nil)
}

// refreshTokenGrant rotates the refresh token and mints a new pair. The
// presented counter travels to the session manager untouched so replay
// detection happens against storage, not against this handler.
func (i *Issuer) refreshTokenGrant(ctx context.Context, client *identity.Client, refreshToken string) (*TokenResponse, error) {
	accessID, counter, err := i.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	access, err := i.repo.Accesses().GetByID(ctx, accessID)
	if err != nil {
		return nil, identity.ErrSessionExpired
	}
	if access.ClientID != client.ID {
		// Valid token, wrong client. Treat it as a bad token rather than
		// leaking that the grant exists.
		return nil, identity.ErrInvalidToken
	}

	login, err := i.repo.ActiveLogins().GetByID(ctx, access.ActiveLoginID)
	if err != nil {
		return nil, identity.ErrSessionExpired
	}

	userID, err := i.resolveLoginUser(ctx, login)
	if err != nil {
		return nil, err
	}

	scopes := identity.SplitScopes(access.Scope)
	return i.mintPair(ctx, access.ID, userID, client.ID, scopes, &counter)
}

// clientCredentialsGrant issues an access token for the client's configured
// service user. No session backs it, so no refresh token is returned.
func (i *Issuer) clientCredentialsGrant(ctx context.Context, client *identity.Client, scope string) (*TokenResponse, error) {
	if client.ClientCredentialFlowUser == nil {
		return nil, identity.ErrFunctionNotAllowed
	}

	scopes := identity.SplitScopes(scope)
	if err := i.clients.ValidateScopeRequest(client, scopes); err != nil {
		return nil, err
	}

	token, expiresAt, err := i.tokens.IssueAccessToken(*client.ClientCredentialFlowUser, client.ID, scopes)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   expiresInSeconds(expiresAt),
		Scope:       identity.JoinScopes(scopes),
	}, nil
}

// passwordGrant runs a LOGIN through the named strategy instance and backs
// the token pair with the resulting session.
func (i *Issuer) passwordGrant(ctx context.Context, client *identity.Client, req TokenRequest) (*TokenResponse, error) {
	if i.exec == nil {
		return nil, identity.ErrFunctionNotAllowed
	}

	instanceID, err := uuid.Parse(req.StrategyInstanceID)
	if err != nil {
		return nil, identity.ErrUnknownStrategy
	}

	scopes := identity.SplitScopes(req.Scope)
	if err := i.clients.ValidateScopeRequest(client, scopes); err != nil {
		return nil, err
	}

	outcome, err := i.exec.Authenticate(ctx, instanceID, strategy.FunctionLogin, strategy.AuthRequest{
		Fields: map[string]string{
			"username": req.Username,
			"password": req.Password,
		},
	})
	if err != nil {
		return nil, err
	}
	if outcome.Credential == nil || outcome.Credential.UserID == nil {
		return nil, identity.ErrAuthenticationFailed
	}

	// No authorization code exists for this grant; fingerprint a nonce so
	// the column stays unique.
	fingerprint, err := CodeFingerprint(uuid.NewString())
	if err != nil {
		return nil, err
	}

	access, err := i.sessions.CreateAccess(ctx, outcome.Login, client.ID, fingerprint, identity.JoinScopes(scopes))
	if err != nil {
		return nil, err
	}

	return i.mintPair(ctx, access.ID, *outcome.Credential.UserID, client.ID, scopes, nil)
}

// mintPair advances the refresh counter (first issuance when presented is
// nil) and signs a fresh access and refresh token pair.
func (i *Issuer) mintPair(ctx context.Context, accessID, userID, clientID uuid.UUID, scopes []string, presented *int64) (*TokenResponse, error) {
	counter, err := i.sessions.IssueOrRotateRefreshToken(ctx, accessID, presented)
	if err != nil {
		return nil, err
	}

	refresh, err := i.tokens.IssueRefreshToken(accessID, counter)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := i.tokens.IssueAccessToken(userID, clientID, scopes)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  token,
		TokenType:    "bearer",
		ExpiresIn:    expiresInSeconds(expiresAt),
		RefreshToken: refresh,
		Scope:        identity.JoinScopes(scopes),
	}, nil
}

// resolveLoginUser returns the user behind a login's credential. Logins still
// waiting on registration cannot back user scoped tokens.
func (i *Issuer) resolveLoginUser(ctx context.Context, login *identity.ActiveLogin) (uuid.UUID, error) {
	if login.LoginDataID == nil {
		return uuid.Nil, identity.ErrCredentialMissing
	}

	credential, err := i.repo.Credentials().GetByID(ctx, *login.LoginDataID)
	if err != nil {
		return uuid.Nil, identity.ErrCredentialMissing
	}
	if credential.State != identity.CredentialValid || credential.UserID == nil {
		return uuid.Nil, identity.ErrAuthenticationFailed
	}
	return *credential.UserID, nil
}

// CodeFingerprint derives the stored fingerprint of an authorization code.
// Deterministic so a replayed code maps to the grant its first exchange
// created.
func CodeFingerprint(code string) (string, error) {
	id, err := hashid.NewUUID(code)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to fingerprint code")
	}
	return id.String(), nil
}

func expiresInSeconds(expiresAt time.Time) int64 {
	d := time.Until(expiresAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
