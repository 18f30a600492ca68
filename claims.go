package identity

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind discriminates the token families the broker mints. Every family
// shares the signing key; the kind claim keeps them from being swapped for
// one another.
type TokenKind = string

const (
	TokenKindAccess       TokenKind = "access"
	TokenKindRefresh      TokenKind = "refresh"
	TokenKindCode         TokenKind = "code"
	TokenKindRegistration TokenKind = "register"
)

// BrokerClaims is the claim set for every token the broker issues.
type BrokerClaims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"knd,omitempty"`
	// Scope is the space-delimited granted scope (access and code tokens).
	Scope string `json:"scope,omitempty"`
	// ClientID is the relying party the token was issued to.
	ClientID string `json:"cid,omitempty"`
	// AccessID references an ActiveLoginAccess (refresh tokens).
	AccessID string `json:"acc,omitempty"`
	// LoginID references an ActiveLogin (code and registration tokens).
	LoginID string `json:"lgn,omitempty"`
	// Counter is the refresh rotation counter encoded in refresh tokens.
	Counter *int64 `json:"ctr,omitempty"`
	// Metadata is the only extension point decorators may write to.
	Metadata map[string]any `json:"meta,omitempty"`
}

// UserID parses the subject as the acting user's id.
func (c *BrokerClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Scopes splits the scope claim.
func (c *BrokerClaims) Scopes() []string {
	if c.Scope == "" {
		return nil
	}
	return strings.Fields(c.Scope)
}

// HasScope reports whether the granted scope contains the given token.
func (c *BrokerClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// JoinScopes renders a scope list in wire format.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// SplitScopes parses a wire-format scope string.
func SplitScopes(scope string) []string {
	return strings.Fields(scope)
}
