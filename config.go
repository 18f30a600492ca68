package identity

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
)

// Config holds every tunable the broker reads. It is constructed once at
// process start and passed by injection; no component reads ambient
// environment state directly.
type Config struct {
	// SigningSecret signs bearer, refresh, and registration tokens.
	SigningSecret string `env:"IDENTITY_SIGNING_SECRET"`
	// Issuer is the iss claim on every token the broker mints.
	Issuer string `env:"IDENTITY_ISSUER" envDefault:"go-identity"`
	// SlidingWindow is how far a successful use pushes an ActiveLogin's
	// expiration into the future.
	SlidingWindow time.Duration `env:"IDENTITY_SESSION_SLIDING_WINDOW" envDefault:"48h"`
	// MaxSessionLifetime caps an ActiveLogin's expiration relative to its
	// creation, regardless of activity.
	MaxSessionLifetime time.Duration `env:"IDENTITY_SESSION_MAX_LIFETIME" envDefault:"2160h"`
	// AccessTokenTTL is the lifetime of issued bearer tokens.
	AccessTokenTTL time.Duration `env:"IDENTITY_ACCESS_TOKEN_TTL" envDefault:"10m"`
	// RegistrationTokenTTL is the lifetime of registration/linking tokens.
	RegistrationTokenTTL time.Duration `env:"IDENTITY_REGISTRATION_TOKEN_TTL" envDefault:"15m"`
	// AuthCodeTTL is the lifetime of authorization codes.
	AuthCodeTTL time.Duration `env:"IDENTITY_AUTH_CODE_TTL" envDefault:"5m"`
	// BcryptCost is the cost factor for password and client secret hashes.
	BcryptCost int `env:"IDENTITY_BCRYPT_COST" envDefault:"12"`
}

// LoadConfig reads the configuration from the environment and validates it.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, WrapConfigurationError(err, "failed to parse environment config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the option invariants. A zero SigningSecret is fatal:
// every token the broker issues depends on it.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SigningSecret, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.Issuer, validation.Required),
		validation.Field(&c.SlidingWindow, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.MaxSessionLifetime, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.AccessTokenTTL, validation.Required),
		validation.Field(&c.RegistrationTokenTTL, validation.Required),
		validation.Field(&c.AuthCodeTTL, validation.Required),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
	)
	if err != nil {
		return WrapConfigurationError(err, "invalid broker configuration")
	}

	if c.MaxSessionLifetime < c.SlidingWindow {
		return NewConfigurationError("max session lifetime must not be shorter than the sliding window")
	}

	return nil
}
