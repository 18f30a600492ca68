package oauth_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-identity/oauth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupController(t *testing.T) (*brokerStack, *fiber.App, func()) {
	t.Helper()

	stack, cleanup := setupIssuer(t)

	ctl := oauth.NewController(func(c *oauth.Controller) *oauth.Controller {
		c.Issuer = stack.issuer
		c.Exec = stack.exec
		c.Clients = stack.clients
		c.Tokens = stack.tokens
		c.Repo = stack.repo
		c.Validator = stack.validator
		c.Directory = stack.directory
		return c
	})

	app := fiber.New()
	ctl.RegisterRoutes(app)

	return stack, app, cleanup
}

func jsonRequest(t *testing.T, target string, payload any) *http.Request {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}

func TestRegistrationAndLoginFlow(t *testing.T) {
	stack, app, cleanup := setupController(t)
	defer cleanup()

	loginPath := fmt.Sprintf("/auth/%s/login", stack.instance.ID)

	// unknown username on a self-register instance holds a pending credential
	resp, err := app.Test(jsonRequest(t, loginPath, fiber.Map{
		"client_id": stack.internalClient.ID.String(),
		"function":  "REGISTER",
		"fields": fiber.Map{
			"username": "newbie",
			"password": "orange-crush-11",
		},
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	pending := decodeBody(t, resp)
	assert.Equal(t, true, pending["registration_pending"])
	registerToken, _ := pending["register_token"].(string)
	require.NotEmpty(t, registerToken)

	// complete the registration with a profile
	resp, err = app.Test(jsonRequest(t, "/auth/register", fiber.Map{
		"register_token": registerToken,
		"username":       "newbie",
		"email":          "newbie@example.com",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeBody(t, resp)
	require.NotEmpty(t, created["user_id"])

	// the credential now logs in and yields an authorization code
	resp, err = app.Test(jsonRequest(t, loginPath, fiber.Map{
		"client_id": stack.internalClient.ID.String(),
		"fields": fiber.Map{
			"username": "newbie",
			"password": "orange-crush-11",
		},
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	loginBody := decodeBody(t, resp)
	code, _ := loginBody["code"].(string)
	require.NotEmpty(t, code)

	// exchange the code at the token endpoint
	resp, err = app.Test(jsonRequest(t, "/oauth/token", fiber.Map{
		"grant_type": oauth.GrantAuthorizationCode,
		"client_id":  stack.internalClient.ID.String(),
		"code":       code,
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))

	pair := decodeBody(t, resp)
	assert.NotEmpty(t, pair["access_token"])
	assert.NotEmpty(t, pair["refresh_token"])
	assert.Equal(t, "bearer", pair["token_type"])

	token, _ := pair["access_token"].(string)
	claims, err := stack.tokens.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, created["user_id"], claims.Subject)
}

func TestTokenPostUnknownClient(t *testing.T) {
	_, app, cleanup := setupController(t)
	defer cleanup()

	resp, err := app.Test(jsonRequest(t, "/oauth/token", fiber.Map{
		"grant_type":    oauth.GrantClientCredentials,
		"client_id":     uuid.NewString(),
		"client_secret": "whatever",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "invalid_client", body["error"])
}

func TestLoginPostRedirectsWithCode(t *testing.T) {
	stack, app, cleanup := setupController(t)
	defer cleanup()

	seedUserCredential(t, stack, "hollis", "orange-crush-11")

	resp, err := app.Test(jsonRequest(t, fmt.Sprintf("/auth/%s/login", stack.instance.ID), fiber.Map{
		"client_id":    stack.restrictedClient.ID.String(),
		"redirect_uri": "https://partner.example.com/callback",
		"scope":        "read",
		"fields": fiber.Map{
			"username": "hollis",
			"password": "orange-crush-11",
		},
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	location := resp.Header.Get(fiber.HeaderLocation)
	assert.Contains(t, location, "https://partner.example.com/callback?code=")
}

func TestLoginPostRejectsUnvettedRedirect(t *testing.T) {
	stack, app, cleanup := setupController(t)
	defer cleanup()

	seedUserCredential(t, stack, "hollis", "orange-crush-11")

	resp, err := app.Test(jsonRequest(t, fmt.Sprintf("/auth/%s/login", stack.instance.ID), fiber.Map{
		"client_id":    stack.restrictedClient.ID.String(),
		"redirect_uri": "https://evil.example.com/callback",
		"fields": fiber.Map{
			"username": "hollis",
			"password": "orange-crush-11",
		},
	}))
	require.NoError(t, err)

	// no redirect to an unvetted URI, error comes back directly
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(fiber.HeaderLocation))
}

func TestLoginPostFailureRedirectsWithError(t *testing.T) {
	stack, app, cleanup := setupController(t)
	defer cleanup()

	seedUserCredential(t, stack, "hollis", "orange-crush-11")

	resp, err := app.Test(jsonRequest(t, fmt.Sprintf("/auth/%s/login", stack.instance.ID), fiber.Map{
		"client_id":    stack.restrictedClient.ID.String(),
		"redirect_uri": "https://partner.example.com/callback",
		"fields": fiber.Map{
			"username": "hollis",
			"password": "wrong-password-11",
		},
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	location := resp.Header.Get(fiber.HeaderLocation)
	assert.Contains(t, location, "error=access_denied")
}

func TestLinkPost(t *testing.T) {
	stack, app, cleanup := setupController(t)
	defer cleanup()

	ownerID := uuid.New()
	stack.directory.addUser(ownerID, "owner")

	holdPending := func(t *testing.T, username string) string {
		resp, err := app.Test(jsonRequest(t, fmt.Sprintf("/auth/%s/login", stack.instance.ID), fiber.Map{
			"client_id": stack.internalClient.ID.String(),
			"function":  "SELF_LINK",
			"fields": fiber.Map{
				"username": username,
				"password": "orange-crush-11",
			},
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		token, _ := decodeBody(t, resp)["register_token"].(string)
		require.NotEmpty(t, token)
		return token
	}

	t.Run("links to the authenticated user", func(t *testing.T) {
		registerToken := holdPending(t, "owner-alias")

		access, _, err := stack.tokens.IssueAccessToken(ownerID, stack.internalClient.ID, nil)
		require.NoError(t, err)

		req := jsonRequest(t, "/auth/link", fiber.Map{"register_token": registerToken})
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+access)

		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, ownerID.String(), body["user_id"])
	})

	t.Run("requires a bearer token", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "/auth/link", fiber.Map{"register_token": "anything"}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("non admin cannot link on behalf of others", func(t *testing.T) {
		registerToken := holdPending(t, "other-alias")

		access, _, err := stack.tokens.IssueAccessToken(ownerID, stack.internalClient.ID, nil)
		require.NoError(t, err)

		req := jsonRequest(t, "/auth/link", fiber.Map{
			"register_token": registerToken,
			"user_id":        uuid.NewString(),
		})
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+access)

		resp, err := app.Test(req)
		require.NoError(t, err)
		body := decodeBody(t, resp)
		assert.Equal(t, "unauthorized_client", body["error"])
	})

	t.Run("admin links on behalf of another user", func(t *testing.T) {
		registerToken := holdPending(t, "assigned-alias")

		adminID := uuid.New()
		stack.directory.addUser(adminID, "root")
		stack.directory.admins[adminID] = true

		targetID := uuid.New()
		stack.directory.addUser(targetID, "target")

		access, _, err := stack.tokens.IssueAccessToken(adminID, stack.internalClient.ID, nil)
		require.NoError(t, err)

		req := jsonRequest(t, "/auth/link", fiber.Map{
			"register_token": registerToken,
			"user_id":        targetID.String(),
		})
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+access)

		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, targetID.String(), body["user_id"])
	})
}
