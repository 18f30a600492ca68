package oauth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	identity "github.com/goliatone/go-identity"
)

// ClaimsContextKey is the fiber locals key the middleware stores verified
// claims under.
const ClaimsContextKey = "identity:claims"

// ClaimsFromContext returns the claims a Protected middleware stored for
// this request.
func ClaimsFromContext(ctx *fiber.Ctx) (*identity.BrokerClaims, error) {
	raw := ctx.Locals(ClaimsContextKey)
	if raw == nil {
		return nil, identity.ErrInvalidToken
	}

	claims, ok := raw.(*identity.BrokerClaims)
	if claims == nil || !ok {
		return nil, identity.ErrInvalidToken
	}
	return claims, nil
}

// Protected verifies the bearer token, confirms the subject still exists in
// the user directory, and stores the claims in locals. A token whose user was
// deleted after issuance is as invalid as a tampered one.
func Protected(tokens identity.TokenService, directory identity.UserDirectory) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		token, err := bearerToken(ctx)
		if err != nil {
			return unauthorized(ctx, err)
		}

		claims, err := tokens.ValidateAccessToken(token)
		if err != nil {
			return unauthorized(ctx, err)
		}

		userID, err := claims.UserID()
		if err != nil {
			return unauthorized(ctx, identity.ErrInvalidToken)
		}
		exists, err := directory.UserExists(ctx.Context(), userID)
		if err != nil || !exists {
			return unauthorized(ctx, identity.ErrInvalidToken)
		}

		ctx.Locals(ClaimsContextKey, claims)
		return ctx.Next()
	}
}

// RequireScope rejects requests whose token does not carry the scope.
func RequireScope(scope string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		claims, err := ClaimsFromContext(ctx)
		if err != nil {
			return unauthorized(ctx, err)
		}
		if !claims.HasScope(scope) {
			return writeOAuthError(ctx, fiber.StatusForbidden, identity.OAuthErrInvalidScope, "insufficient scope")
		}
		return ctx.Next()
	}
}

// RequireAdmin rejects requests whose subject is not an admin user.
func RequireAdmin(directory identity.UserDirectory) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		claims, err := ClaimsFromContext(ctx)
		if err != nil {
			return unauthorized(ctx, err)
		}

		userID, err := claims.UserID()
		if err != nil {
			return unauthorized(ctx, identity.ErrInvalidToken)
		}

		isAdmin, err := directory.IsAdmin(ctx.Context(), userID)
		if err != nil || !isAdmin {
			return writeOAuthError(ctx, fiber.StatusForbidden, identity.OAuthErrAccessDenied, "admin privileges required")
		}
		return ctx.Next()
	}
}

func bearerToken(ctx *fiber.Ctx) (string, error) {
	header := ctx.Get(fiber.HeaderAuthorization)
	if header == "" {
		return "", identity.ErrInvalidToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", identity.ErrInvalidToken
	}
	return parts[1], nil
}

func unauthorized(ctx *fiber.Ctx, err error) error {
	code, description := identity.OAuthErrorCode(err)
	ctx.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="identity"`)
	return writeOAuthError(ctx, fiber.StatusUnauthorized, code, description)
}
