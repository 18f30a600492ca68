// Package strategy defines the pluggable authentication backend contract and
// the pipeline that turns raw strategy results into session state.
package strategy

import (
	"context"

	identity "github.com/goliatone/go-identity"
)

// Capabilities are the static feature flags of a strategy implementation.
// Per-instance toggles (StrategyInstance.IsLoginActive etc.) can only narrow
// what the capabilities allow, never widen.
type Capabilities struct {
	// SupportsLoginRegister means the strategy can authenticate existing
	// credentials and produce candidate data for new ones.
	SupportsLoginRegister bool
	// SupportsSync means sessions from this strategy can hand tokens to an
	// external sync collaborator.
	SupportsSync bool
	// NeedsRedirectFlow means authentication round-trips through an
	// upstream provider.
	NeedsRedirectFlow bool
	// AllowsImplicitSignup means a LOGIN against an unknown identity may
	// fall through to registration when the instance opts in.
	AllowsImplicitSignup bool
}

// AuthRequest is the submitted credential material, strategy-defined.
type AuthRequest struct {
	// Fields carries the submitted key/value pairs, e.g. username/password
	// for a password backend or id_token for an upstream one.
	Fields map[string]string
}

// Get returns a submitted field or the empty string.
func (r AuthRequest) Get(key string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

// AuthResult is what a strategy reports back. Exactly one of
// MatchedCredential / NewCredentialData is expected; a nil result means
// authentication failed. Strategies never mutate session state directly.
type AuthResult struct {
	// MatchedCredential is an existing credential the request proved
	// possession of.
	MatchedCredential *identity.UserLoginData
	// NewCredentialData is the candidate payload for a credential that does
	// not exist yet.
	NewCredentialData map[string]any
	// NewSessionData is per-event data stored on the ActiveLogin, e.g.
	// upstream tokens.
	NewSessionData map[string]any
	// MayRegister reports whether the strategy permits registering the new
	// credential data.
	MayRegister bool
}

// Strategy is a pluggable credential backend.
type Strategy interface {
	// Type is the stable name instances reference.
	Type() string
	Capabilities() Capabilities

	// CheckAndExtendInstanceConfig validates a raw instance config, fills
	// defaults, and returns the canonical form. Configuration errors are
	// fatal at startup or admin-operation time.
	CheckAndExtendInstanceConfig(rawConfig map[string]any) (map[string]any, error)

	// PerformAuth runs the strategy against a request. A nil result with a
	// nil error means the credentials did not check out; errors are
	// strategy-internal faults and are never surfaced verbatim.
	PerformAuth(ctx context.Context, instance *identity.StrategyInstance, req AuthRequest) (*AuthResult, error)

	// DescribeCredential renders a human readable descriptor for display,
	// e.g. a masked username or upstream account name.
	DescribeCredential(credential *identity.UserLoginData) string
}
