// Package oidc implements the upstream OpenID Connect backend: the broker
// verifies an ID token minted by an external provider and maps its subject
// to a credential. Sessions from this strategy can carry the upstream token
// for sync collaborators.
package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/strategy"
)

// StrategyType is the type name instances reference.
const StrategyType = "oidc"

// Credential data keys this strategy owns.
const (
	DataKeySubject  = "sub"
	DataKeyIssuer   = "iss"
	DataKeyUsername = "username"
)

// Session data keys stored on the ActiveLogin.
const (
	SessionKeyIDToken   = "id_token"
	SessionKeyExpiresAt = "id_token_expires_at"
)

// FieldIDToken is the request field carrying the upstream token.
const FieldIDToken = "id_token"

type instanceConfig struct {
	Issuer        string `json:"issuer"`
	JWKSURL       string `json:"jwks_url"`
	Audience      string `json:"audience"`
	UsernameClaim string `json:"username_claim"`
}

func (c instanceConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Issuer, validation.Required, is.URL),
		validation.Field(&c.JWKSURL, validation.Required, is.URL),
		validation.Field(&c.Audience, validation.Required),
		validation.Field(&c.UsernameClaim, validation.Required),
	)
}

// KeyfuncProvider resolves a JWKS URL to a verification keyfunc. The
// default fetches and caches the remote key set; tests inject given keys.
type KeyfuncProvider func(jwksURL string) (jwt.Keyfunc, error)

// OIDC verifies upstream ID tokens and maps their subjects to credentials.
type OIDC struct {
	credentials identity.LoginCredentials
	provider    KeyfuncProvider
	logger      identity.Logger

	mu   sync.Mutex
	jwks map[string]*keyfunc.JWKS
}

var _ strategy.Strategy = (*OIDC)(nil)

// New returns the OIDC strategy over the credential store.
func New(credentials identity.LoginCredentials) *OIDC {
	s := &OIDC{
		credentials: credentials,
		logger:      identity.DefaultLogger(),
		jwks:        make(map[string]*keyfunc.JWKS),
	}
	s.provider = s.remoteKeyfunc
	return s
}

func (s *OIDC) WithLogger(logger identity.Logger) *OIDC {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithKeyfuncProvider overrides JWKS resolution, used by tests and by
// embedders that manage key sets themselves.
func (s *OIDC) WithKeyfuncProvider(provider KeyfuncProvider) *OIDC {
	if provider != nil {
		s.provider = provider
	}
	return s
}

func (s *OIDC) Type() string { return StrategyType }

func (s *OIDC) Capabilities() strategy.Capabilities {
	return strategy.Capabilities{
		SupportsLoginRegister: true,
		SupportsSync:          true,
		NeedsRedirectFlow:     true,
		AllowsImplicitSignup:  true,
	}
}

// CheckAndExtendInstanceConfig validates the raw config and fills defaults.
func (s *OIDC) CheckAndExtendInstanceConfig(rawConfig map[string]any) (map[string]any, error) {
	cfg := instanceConfig{
		Issuer:        asString(rawConfig["issuer"]),
		JWKSURL:       asString(rawConfig["jwks_url"]),
		Audience:      asString(rawConfig["audience"]),
		UsernameClaim: asString(rawConfig["username_claim"]),
	}
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = "preferred_username"
	}

	if err := cfg.Validate(); err != nil {
		return nil, identity.WrapConfigurationError(err, "invalid oidc config")
	}

	return map[string]any{
		"issuer":         cfg.Issuer,
		"jwks_url":       cfg.JWKSURL,
		"audience":       cfg.Audience,
		"username_claim": cfg.UsernameClaim,
	}, nil
}

func (s *OIDC) PerformAuth(ctx context.Context, instance *identity.StrategyInstance, req strategy.AuthRequest) (*strategy.AuthResult, error) {
	rawToken := req.Get(FieldIDToken)
	if rawToken == "" {
		return nil, nil
	}

	issuer := asString(instance.InstanceConfig["issuer"])
	jwksURL := asString(instance.InstanceConfig["jwks_url"])
	audience := asString(instance.InstanceConfig["audience"])
	usernameClaim := asString(instance.InstanceConfig["username_claim"])
	if usernameClaim == "" {
		usernameClaim = "preferred_username"
	}

	keyFunc, err := s.provider(jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve jwks for %s: %w", jwksURL, err)
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, keyFunc,
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		// Bad upstream tokens are an authentication failure, not a fault.
		s.logger.Debug("oidc token rejected: %v", err)
		return nil, nil
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, nil
	}
	username, _ := claims[usernameClaim].(string)

	sessionData := map[string]any{
		SessionKeyIDToken: rawToken,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		sessionData[SessionKeyExpiresAt] = exp.Unix()
	}

	credential, err := s.credentials.FindByInstanceAndDataValue(ctx, instance.ID, DataKeySubject, subject)
	if err == nil && credential != nil {
		return &strategy.AuthResult{
			MatchedCredential: credential,
			NewSessionData:    sessionData,
		}, nil
	}

	return &strategy.AuthResult{
		NewCredentialData: map[string]any{
			DataKeySubject:  subject,
			DataKeyIssuer:   issuer,
			DataKeyUsername: username,
		},
		NewSessionData: sessionData,
		MayRegister:    true,
	}, nil
}

func (s *OIDC) DescribeCredential(credential *identity.UserLoginData) string {
	if credential == nil {
		return ""
	}
	username, _ := credential.Data[DataKeyUsername].(string)
	issuer, _ := credential.Data[DataKeyIssuer].(string)
	if username == "" {
		username, _ = credential.Data[DataKeySubject].(string)
	}
	return fmt.Sprintf("%s account %q", issuer, username)
}

// remoteKeyfunc fetches the JWKS once per URL and keeps it refreshing in the
// background.
func (s *OIDC) remoteKeyfunc(jwksURL string) (jwt.Keyfunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jwks, ok := s.jwks[jwksURL]; ok {
		return jwks.Keyfunc, nil
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			s.logger.Warn("jwks background refresh failed: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, err
	}

	s.jwks[jwksURL] = jwks
	return jwks.Keyfunc, nil
}

func asString(raw any) string {
	v, _ := raw.(string)
	return v
}
