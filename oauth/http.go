package oauth

import (
	"fmt"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/strategy"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// ControllerRoutes holds the mount points for the broker endpoints.
type ControllerRoutes struct {
	Token    string
	Login    string
	Register string
	Link     string
}

// Controller exposes the broker over HTTP: token grants, strategy logins and
// registration completion.
type Controller struct {
	Debug     bool
	Logger    identity.Logger
	Routes    *ControllerRoutes
	Issuer    *Issuer
	Exec      *strategy.Executor
	Clients   *identity.ClientRegistry
	Tokens    identity.TokenService
	Repo      identity.RepositoryManager
	Validator *identity.RegistrationTokenValidator
	Directory identity.UserDirectory
	Activity  identity.ActivitySink
}

// ControllerOption mutates the controller during construction.
type ControllerOption func(*Controller) *Controller

// NewController builds the HTTP controller. Issuer, Exec, Clients, Tokens,
// Repo, Validator and Directory are required.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger: identity.DefaultLogger(),
		Routes: &ControllerRoutes{
			Token:    "/oauth/token",
			Login:    "/auth/:instance/login",
			Register: "/auth/register",
			Link:     "/auth/link",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Issuer == nil || c.Exec == nil || c.Clients == nil || c.Tokens == nil {
		panic("Missing token services in oauth controller...")
	}

	if c.Repo == nil || c.Validator == nil || c.Directory == nil {
		panic("Missing registration services in oauth controller...")
	}

	return c
}

// RegisterRoutes mounts the broker endpoints on the app.
func (c *Controller) RegisterRoutes(app *fiber.App) {
	app.Post(c.Routes.Token, c.TokenPost)
	app.Post(c.Routes.Login, c.LoginPost)
	app.Post(c.Routes.Register, c.RegisterPost)
	app.Post(c.Routes.Link, Protected(c.Tokens, c.Directory), c.LinkPost)
}

// TokenPost is the OAuth token endpoint. Accepts form-encoded or JSON
// bodies.
func (c *Controller) TokenPost(ctx *fiber.Ctx) error {
	payload := new(TokenRequest)
	if err := ctx.BodyParser(payload); err != nil {
		c.Logger.Error("token request parse payload: %v", err)
		return writeOAuthError(ctx, fiber.StatusBadRequest, identity.OAuthErrInvalidRequest, "malformed request body")
	}

	if c.Debug {
		fmt.Println("======= TOKEN GRANT ======")
		fmt.Println(print.MaybePrettyJSON(redactTokenRequest(*payload)))
		fmt.Println("==========================")
	}

	res, err := c.Issuer.Token(ctx.Context(), *payload)
	if err != nil {
		return c.oauthError(ctx, err)
	}

	ctx.Set(fiber.HeaderCacheControl, "no-store")
	return ctx.JSON(res)
}

// LoginRequest is the strategy login payload.
type LoginRequest struct {
	ClientID    string            `json:"client_id" form:"client_id"`
	RedirectURI string            `json:"redirect_uri" form:"redirect_uri"`
	Scope       string            `json:"scope" form:"scope"`
	Function    string            `json:"function" form:"function"`
	Fields      map[string]string `json:"fields" form:"fields"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ClientID, validation.Required, is.UUID),
		validation.Field(&r.Function, validation.In(
			string(strategy.FunctionLogin),
			string(strategy.FunctionRegister),
			string(strategy.FunctionRegisterWithSync),
			string(strategy.FunctionSelfLink),
		)),
	)
}

// LoginPost runs a strategy function. A completed login answers with an
// authorization code, either as JSON or appended to the redirect URI. A
// pending registration answers 202 with the registration token.
func (c *Controller) LoginPost(ctx *fiber.Ctx) error {
	instanceID, err := uuid.Parse(ctx.Params("instance"))
	if err != nil {
		return writeOAuthError(ctx, fiber.StatusBadRequest, identity.OAuthErrInvalidRequest, "invalid strategy instance")
	}

	payload := new(LoginRequest)
	if err := ctx.BodyParser(payload); err != nil {
		c.Logger.Error("login parse payload: %v", err)
		return writeOAuthError(ctx, fiber.StatusBadRequest, identity.OAuthErrInvalidRequest, "malformed request body")
	}

	if err := payload.Validate(); err != nil {
		return writeOAuthError(ctx, fiber.StatusBadRequest, identity.OAuthErrInvalidRequest, err.Error())
	}

	clientID, err := uuid.Parse(payload.ClientID)
	if err != nil {
		return c.oauthError(ctx, identity.ErrClientNotFound)
	}

	client, err := c.Clients.FindClient(ctx.Context(), clientID)
	if err != nil {
		return c.oauthError(ctx, err)
	}

	if payload.RedirectURI != "" {
		if err := c.Clients.ValidateRedirect(client, payload.RedirectURI); err != nil {
			// Never redirect to an unvetted URI, not even with an error.
			return c.oauthError(ctx, err)
		}
	}

	scopes := identity.SplitScopes(payload.Scope)
	if err := c.Clients.ValidateScopeRequest(client, scopes); err != nil {
		return c.loginError(ctx, payload.RedirectURI, err)
	}

	fn := strategy.Function(payload.Function)
	if payload.Function == "" {
		fn = strategy.FunctionLogin
	}

	outcome, err := c.Exec.Authenticate(ctx.Context(), instanceID, fn, strategy.AuthRequest{
		Fields: payload.Fields,
	})
	if err != nil {
		return c.loginError(ctx, payload.RedirectURI, err)
	}

	if outcome.RegistrationToken != "" {
		return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"registration_pending": true,
			"register_token":       outcome.RegistrationToken,
		})
	}

	code, err := c.Tokens.IssueAuthorizationCode(outcome.Login.ID, client.ID, scopes)
	if err != nil {
		return c.loginError(ctx, payload.RedirectURI, err)
	}

	if payload.RedirectURI != "" {
		return ctx.Redirect(fmt.Sprintf("%s?code=%s", payload.RedirectURI, url.QueryEscape(code)), fiber.StatusSeeOther)
	}

	return ctx.JSON(fiber.Map{"code": code})
}

// RegisterPost completes a pending self registration.
func (c *Controller) RegisterPost(ctx *fiber.Ctx) error {
	payload := new(identity.RegisterUserMessage)
	if err := ctx.BodyParser(payload); err != nil {
		c.Logger.Error("register parse payload: %v", err)
		return writeOAuthError(ctx, fiber.StatusBadRequest, identity.OAuthErrInvalidRequest, "malformed request body")
	}

	var res *identity.RegisterUserResponse
	payload.OnResponse = func(r *identity.RegisterUserResponse) {
		res = r
	}

	handler := identity.RegisterUserHandler{
		Repo:      c.Repo,
		Validator: c.Validator,
		Directory: c.Directory,
		Logger:    c.Logger,
		Activity:  c.Activity,
	}

	if err := handler.Execute(ctx.Context(), *payload); err != nil {
		c.Logger.Error("register user: %v", err)
		return c.oauthError(ctx, err)
	}

	if c.Debug {
		fmt.Println("======= REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(res))
		fmt.Println("=======================")
	}

	return ctx.Status(fiber.StatusCreated).JSON(res)
}

// LinkPost binds a waiting credential to the authenticated user. Requires a
// bearer token; admins may link on behalf of other users.
func (c *Controller) LinkPost(ctx *fiber.Ctx) error {
	claims, err := ClaimsFromContext(ctx)
	if err != nil {
		return c.oauthError(ctx, err)
	}

	subject, err := claims.UserID()
	if err != nil {
		return c.oauthError(ctx, identity.ErrInvalidToken)
	}

	payload := new(identity.LinkCredentialMessage)
	if err := ctx.BodyParser(payload); err != nil {
		c.Logger.Error("link parse payload: %v", err)
		return writeOAuthError(ctx, fiber.StatusBadRequest, identity.OAuthErrInvalidRequest, "malformed request body")
	}

	targetUser := subject
	asAdmin := false
	if payload.UserID != uuid.Nil && payload.UserID != subject {
		isAdmin, err := c.Directory.IsAdmin(ctx.Context(), subject)
		if err != nil || !isAdmin {
			return c.oauthError(ctx, identity.ErrFunctionNotAllowed)
		}
		targetUser = payload.UserID
		asAdmin = true
	}

	var res *identity.LinkCredentialResponse
	msg := identity.LinkCredentialMessage{
		Token:   payload.Token,
		UserID:  targetUser,
		AsAdmin: asAdmin,
		OnResponse: func(r *identity.LinkCredentialResponse) {
			res = r
		},
	}

	handler := identity.LinkCredentialHandler{
		Repo:      c.Repo,
		Validator: c.Validator,
		Directory: c.Directory,
		Logger:    c.Logger,
		Activity:  c.Activity,
	}

	if err := handler.Execute(ctx.Context(), msg); err != nil {
		c.Logger.Error("link credential: %v", err)
		return c.oauthError(ctx, err)
	}

	return ctx.JSON(res)
}

// oauthError maps an internal error to the protocol error body and status.
func (c *Controller) oauthError(ctx *fiber.Ctx, err error) error {
	code, description := identity.OAuthErrorCode(err)
	return writeOAuthError(ctx, statusForOAuthCode(code), code, description)
}

// loginError reports a login failure, appending the error to the redirect
// URI when one was validated earlier in the request.
func (c *Controller) loginError(ctx *fiber.Ctx, redirectURI string, err error) error {
	code, description := identity.OAuthErrorCode(err)
	if redirectURI != "" {
		return ctx.Redirect(
			fmt.Sprintf("%s?error=%s&error_description=%s", redirectURI, code, url.QueryEscape(description)),
			fiber.StatusSeeOther,
		)
	}
	return writeOAuthError(ctx, statusForOAuthCode(code), code, description)
}

func writeOAuthError(ctx *fiber.Ctx, status int, code, description string) error {
	return ctx.Status(status).JSON(fiber.Map{
		"error":             code,
		"error_description": description,
	})
}

func statusForOAuthCode(code string) int {
	switch code {
	case identity.OAuthErrInvalidClient:
		return fiber.StatusUnauthorized
	case identity.OAuthErrAccessDenied:
		return fiber.StatusForbidden
	case identity.OAuthErrServerError:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusBadRequest
	}
}

// redactTokenRequest strips credentials before debug printing.
func redactTokenRequest(req TokenRequest) TokenRequest {
	if req.ClientSecret != "" {
		req.ClientSecret = "[redacted]"
	}
	if req.Password != "" {
		req.Password = "[redacted]"
	}
	if req.RefreshToken != "" {
		req.RefreshToken = "[redacted]"
	}
	return req
}
