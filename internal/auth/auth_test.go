package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository/memory"
	apperrors "github.com/helpdesk-labs/ticket-assignment/pkg/util/errorutil"
)

func newApp(t *testing.T) (*fiber.App, *TokenManager, *memory.Database) {
	t.Helper()
	db := memory.New()
	db.PutUser(domain.User{ID: "pm-1", Name: "Pat Manager", Role: domain.RoleProjectManager, Active: true})
	db.PutUser(domain.User{ID: "dev-1", Name: "Dee Dev", Role: domain.RoleDeveloper, Active: true})
	db.PutUser(domain.User{ID: "dev-9", Name: "Gone Dev", Role: domain.RoleDeveloper})

	tokens := NewTokenManager("test-secret", 5)
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	mw := NewAuthMiddleware(tokens, db.Users)
	app.Get("/whoami", mw.Handle, func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.ID + "|" + p.Name + "|" + string(p.Role))
	})
	app.Get("/managers", mw.Handle, RequireRole(domain.RoleAdmin, domain.RoleProjectManager), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	return app, tokens, db
}

func bearer(t *testing.T, tokens *TokenManager, user domain.User) string {
	t.Helper()
	token, _, err := tokens.GenerateToken(&user)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokenManager("test-secret", 5)
	token, expires, err := tokens.GenerateToken(&domain.User{ID: "dev-1", Name: "Dee Dev", Role: domain.RoleDeveloper})
	require.NoError(t, err)
	assert.False(t, expires.IsZero())

	claims, err := tokens.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", claims.Subject)
	assert.Equal(t, domain.RoleDeveloper, claims.Role)

	_, err = NewTokenManager("other-secret", 5).ParseToken(token)
	assert.Error(t, err)
}

func TestMiddlewareLoadsPrincipalFromDirectory(t *testing.T) {
	app, tokens, _ := newApp(t)

	// the token claims admin but the directory says developer
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", bearer(t, tokens, domain.User{ID: "dev-1", Role: domain.RoleAdmin}))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "dev-1|Dee Dev|developer", string(body))
}

func TestMiddlewareRejects(t *testing.T) {
	app, tokens, _ := newApp(t)

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"garbage token":  "Bearer not-a-jwt",
		"unknown user":   bearer(t, tokens, domain.User{ID: "ghost", Role: domain.RoleAdmin}),
		"inactive user":  bearer(t, tokens, domain.User{ID: "dev-9", Role: domain.RoleDeveloper}),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestRequireRole(t *testing.T) {
	app, tokens, _ := newApp(t)

	req := httptest.NewRequest(http.MethodGet, "/managers", nil)
	req.Header.Set("Authorization", bearer(t, tokens, domain.User{ID: "pm-1"}))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/managers", nil)
	req.Header.Set("Authorization", bearer(t, tokens, domain.User{ID: "dev-1"}))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestParseTokenRejectsExpiredAndForeignIssuer(t *testing.T) {
	tokens := NewTokenManager("test-secret", 5)
	issued := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issued }

	token, expires, err := tokens.GenerateToken(&domain.User{ID: "dev-1", Role: domain.RoleDeveloper})
	require.NoError(t, err)
	assert.Equal(t, issued.Add(5*time.Minute), expires)

	tokens.now = func() time.Time { return expires.Add(clockSkew + time.Second) }
	_, err = tokens.ParseToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "admin-1",
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	tokens.now = func() time.Time { return issued }
	_, err = tokens.ParseToken(foreign)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	_, _, err = tokens.GenerateToken(&domain.User{})
	assert.Error(t, err)
}
