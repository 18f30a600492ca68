package identity

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to broker errors. These are stable identifiers meant
// for logs and machine handling; user-facing OAuth codes are derived from
// them via OAuthErrorCode.
const (
	TextCodeConfiguration       = "broker_configuration"
	TextCodeAuthFailed          = "broker_authentication_failed"
	TextCodeFunctionNotAllowed  = "broker_function_not_allowed"
	TextCodeSessionExpired      = "broker_session_expired"
	TextCodeInvalidToken        = "broker_invalid_token"
	TextCodeInvalidRegToken     = "broker_invalid_registration_token"
	TextCodeRefreshReuse        = "broker_refresh_token_reuse"
	TextCodeUserMismatch        = "broker_user_mismatch"
	TextCodeAlreadyRegistered   = "broker_already_registered"
	TextCodeScopeNotAllowed     = "broker_scope_not_allowed"
	TextCodeCredentialMissing   = "broker_credential_missing"
	TextCodeCredentialBlocked   = "broker_credential_blocked"
	TextCodeUnknownStrategy     = "broker_unknown_strategy"
	TextCodeClientNotFound      = "broker_client_not_found"
	TextCodeInvalidClientSecret = "broker_invalid_client_secret"
	TextCodeRedirectNotAllowed  = "broker_redirect_not_allowed"
	TextCodeImmutableClaim      = "broker_immutable_claim"
)

// ErrAuthenticationFailed is the generic credential failure. It is
// deliberately vague: callers never learn which factor was wrong.
var ErrAuthenticationFailed = goerrors.New("authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrFunctionNotAllowed is returned when a strategy instance's capability
// flags disallow the requested function. Safe to report precisely.
var ErrFunctionNotAllowed = goerrors.New("function not allowed for this strategy instance", goerrors.CategoryAuth).
	WithTextCode(TextCodeFunctionNotAllowed).
	WithCode(goerrors.CodeForbidden)

// ErrSessionExpired is returned when an ActiveLogin is invalid or past its
// expiration window.
var ErrSessionExpired = goerrors.New("session expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidToken is returned on any bearer token verification failure.
var ErrInvalidToken = goerrors.New("invalid token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidRegistrationToken is returned when a registration token fails
// signature or reference checks.
var ErrInvalidRegistrationToken = goerrors.New("invalid registration token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidRegToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenReuse is raised when a superseded refresh token is presented
// again. The access grant is invalidated before this is returned; externally
// it maps to the same invalid_grant as any other bad refresh token so an
// attacker gets no oracle.
var ErrRefreshTokenReuse = goerrors.New("refresh token reuse detected", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshReuse).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserMismatch is returned when a registration token is bound to a
// different user than the one performing the link.
var ErrUserMismatch = goerrors.New("credential belongs to a different user", goerrors.CategoryValidation).
	WithTextCode(TextCodeUserMismatch).
	WithCode(goerrors.CodeConflict)

// ErrAlreadyRegistered is returned when a credential is past the
// waiting-for-register state.
var ErrAlreadyRegistered = goerrors.New("credential already registered", goerrors.CategoryValidation).
	WithTextCode(TextCodeAlreadyRegistered).
	WithCode(goerrors.CodeConflict)

// ErrScopeNotAllowed is returned when a non-internal client requests a scope
// outside its allow-list.
var ErrScopeNotAllowed = goerrors.New("requested scope not allowed for client", goerrors.CategoryAuth).
	WithTextCode(TextCodeScopeNotAllowed).
	WithCode(goerrors.CodeForbidden)

// ErrCredentialMissing is returned when an ActiveLogin references a
// credential that no longer exists.
var ErrCredentialMissing = goerrors.New("credential not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeCredentialMissing).
	WithCode(goerrors.CodeNotFound)

// ErrCredentialBlocked is returned when a blocked credential is exercised.
var ErrCredentialBlocked = goerrors.New("credential is blocked", goerrors.CategoryAuth).
	WithTextCode(TextCodeCredentialBlocked).
	WithCode(goerrors.CodeForbidden)

// ErrUnknownStrategy is returned when a strategy type name has no registered
// implementation. This is fatal at startup, never a runtime surprise.
var ErrUnknownStrategy = goerrors.New("unknown strategy type", goerrors.CategoryValidation).
	WithTextCode(TextCodeUnknownStrategy).
	WithCode(goerrors.CodeBadRequest)

// ErrClientNotFound is returned when a client id resolves neither to a
// built-in nor to a persisted client.
var ErrClientNotFound = goerrors.New("client not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeClientNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidClientSecret is returned when a client secret does not match any
// stored hash, or a required secret is missing.
var ErrInvalidClientSecret = goerrors.New("invalid client secret", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidClientSecret).
	WithCode(goerrors.CodeUnauthorized)

// ErrRedirectNotAllowed is returned when a redirect URI is not on the
// client's allow-list.
var ErrRedirectNotAllowed = goerrors.New("redirect uri not allowed", goerrors.CategoryValidation).
	WithTextCode(TextCodeRedirectNotAllowed).
	WithCode(goerrors.CodeBadRequest)

// ErrImmutableClaimMutation is returned when a claims decorator touches a
// protected claim.
var ErrImmutableClaimMutation = goerrors.New("immutable claim mutated", goerrors.CategoryInternal).
	WithTextCode(TextCodeImmutableClaim).
	WithCode(goerrors.CodeInternal)

// NewConfigurationError wraps bad strategy or client setup. Configuration
// errors are fatal at startup or admin-operation time.
func NewConfigurationError(msg string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryValidation).
		WithTextCode(TextCodeConfiguration).
		WithCode(goerrors.CodeBadRequest)
}

// WrapConfigurationError preserves the cause of a configuration failure.
func WrapConfigurationError(err error, msg string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, msg).
		WithTextCode(TextCodeConfiguration).
		WithCode(goerrors.CodeBadRequest)
}

// OAuth protocol error codes, the fixed vocabulary externally visible
// failures are mapped onto.
const (
	OAuthErrInvalidRequest     = "invalid_request"
	OAuthErrInvalidClient      = "invalid_client"
	OAuthErrInvalidGrant       = "invalid_grant"
	OAuthErrInvalidScope       = "invalid_scope"
	OAuthErrUnauthorizedClient = "unauthorized_client"
	OAuthErrAccessDenied       = "access_denied"
	OAuthErrServerError        = "server_error"
	OAuthErrUnsupportedGrant   = "unsupported_grant_type"
)

// OAuthErrorCode maps an internal error to the protocol error code and a
// human readable description safe to hand back to a client or append to a
// redirect URI. Detail asymmetry is intentional: full context stays in
// server-side logs.
func OAuthErrorCode(err error) (code, description string) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return OAuthErrServerError, "internal error"
	}

	switch rich.TextCode {
	case TextCodeAuthFailed:
		return OAuthErrAccessDenied, "authentication failed"
	case TextCodeFunctionNotAllowed:
		return OAuthErrUnauthorizedClient, "function not allowed"
	case TextCodeSessionExpired, TextCodeInvalidToken, TextCodeRefreshReuse:
		// Reuse detection intentionally shares invalid_grant with every
		// other bad refresh token.
		return OAuthErrInvalidGrant, "invalid or expired grant"
	case TextCodeInvalidRegToken:
		return OAuthErrInvalidGrant, "invalid registration token"
	case TextCodeScopeNotAllowed:
		return OAuthErrInvalidScope, "requested scope not allowed"
	case TextCodeCredentialBlocked:
		return OAuthErrAccessDenied, "credential is blocked"
	case TextCodeUnknownStrategy:
		return OAuthErrInvalidRequest, "unknown strategy instance"
	case TextCodeClientNotFound, TextCodeInvalidClientSecret:
		return OAuthErrInvalidClient, "client authentication failed"
	case TextCodeRedirectNotAllowed, TextCodeConfiguration:
		return OAuthErrInvalidRequest, rich.Message
	case TextCodeUserMismatch, TextCodeAlreadyRegistered:
		// Legitimate user-facing states, reported precisely.
		return OAuthErrInvalidRequest, rich.Message
	default:
		return OAuthErrServerError, "internal error"
	}
}
