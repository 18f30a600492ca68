// Package userpass implements the password credential backend: usernames
// bound to bcrypt hashes stored in the credential data bag.
package userpass

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/strategy"
)

// StrategyType is the type name instances reference.
const StrategyType = "userpass"

// Credential data keys this strategy owns.
const (
	DataKeyUsername     = "username"
	DataKeyPasswordHash = "password_hash"
)

// Request field names.
const (
	FieldUsername = "username"
	FieldPassword = "password"
)

type instanceConfig struct {
	MinPasswordLength int `json:"min_password_length"`
}

func (c instanceConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MinPasswordLength, validation.Min(1), validation.Max(128)),
	)
}

// Userpass authenticates username/password pairs against stored credential
// hashes. It supports implicit signup: a login with an unknown username
// becomes a registration candidate when the instance opts in.
type Userpass struct {
	credentials identity.LoginCredentials
	hasher      identity.Hasher
	logger      identity.Logger
}

var _ strategy.Strategy = (*Userpass)(nil)

// New returns the password strategy over the credential store.
func New(credentials identity.LoginCredentials, hasher identity.Hasher) *Userpass {
	return &Userpass{
		credentials: credentials,
		hasher:      hasher,
		logger:      identity.DefaultLogger(),
	}
}

func (s *Userpass) WithLogger(logger identity.Logger) *Userpass {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Userpass) Type() string { return StrategyType }

func (s *Userpass) Capabilities() strategy.Capabilities {
	return strategy.Capabilities{
		SupportsLoginRegister: true,
		SupportsSync:          false,
		NeedsRedirectFlow:     false,
		AllowsImplicitSignup:  true,
	}
}

// CheckAndExtendInstanceConfig validates the raw config and fills defaults.
func (s *Userpass) CheckAndExtendInstanceConfig(rawConfig map[string]any) (map[string]any, error) {
	cfg := instanceConfig{MinPasswordLength: 8}

	if raw, ok := rawConfig["min_password_length"]; ok {
		length, ok := asInt(raw)
		if !ok {
			return nil, identity.NewConfigurationError("min_password_length must be a number")
		}
		cfg.MinPasswordLength = length
	}

	if err := cfg.Validate(); err != nil {
		return nil, identity.WrapConfigurationError(err, "invalid userpass config")
	}

	return map[string]any{
		"min_password_length": cfg.MinPasswordLength,
	}, nil
}

func (s *Userpass) PerformAuth(ctx context.Context, instance *identity.StrategyInstance, req strategy.AuthRequest) (*strategy.AuthResult, error) {
	username := req.Get(FieldUsername)
	password := req.Get(FieldPassword)
	if username == "" || password == "" {
		return nil, nil
	}

	credential, err := s.credentials.FindByInstanceAndDataValue(ctx, instance.ID, DataKeyUsername, username)
	if err == nil && credential != nil {
		hash, _ := credential.Data[DataKeyPasswordHash].(string)
		if s.hasher.Compare(password, hash) != nil {
			// Wrong password reads the same as unknown username.
			return nil, nil
		}
		return &strategy.AuthResult{MatchedCredential: credential}, nil
	}

	minLength := 8
	if raw, ok := instance.InstanceConfig["min_password_length"]; ok {
		if length, ok := asInt(raw); ok {
			minLength = length
		}
	}
	if len(password) < minLength {
		return nil, nil
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	return &strategy.AuthResult{
		NewCredentialData: map[string]any{
			DataKeyUsername:     username,
			DataKeyPasswordHash: hash,
		},
		MayRegister: true,
	}, nil
}

func (s *Userpass) DescribeCredential(credential *identity.UserLoginData) string {
	if credential == nil {
		return ""
	}
	username, _ := credential.Data[DataKeyUsername].(string)
	return fmt.Sprintf("password credential for %q", username)
}

// asInt normalizes the numeric types a JSON config round-trip produces.
func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
