package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func tenantEchoApp(secret string) *fiber.App {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Use(Tenant("admin"))
	if secret != "" {
		app.Use(JWTProtected(secret))
	}
	app.Get("/whoami", func(c *fiber.Ctx) error {
		if TenantIDFromContext(c.UserContext()) != TenantID(c) {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(TenantID(c))
	})
	return app
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doWhoami(t *testing.T, app *fiber.App, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestTenantDefaultsWhenHeaderMissing(t *testing.T) {
	status, body := doWhoami(t, tenantEchoApp(""), nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "admin", body)
}

func TestTenantHeaderIsNormalised(t *testing.T) {
	status, body := doWhoami(t, tenantEchoApp(""), map[string]string{TenantHeader: " North-High "})
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "north-high", body)
}

func TestTenantRejectsMalformedHeader(t *testing.T) {
	status, _ := doWhoami(t, tenantEchoApp(""), map[string]string{TenantHeader: "../etc"})
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestJWTBindsTenantClaim(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "teacher@north.edu",
		"role":   "teacher",
		"tenant": "north",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	status, body := doWhoami(t, tenantEchoApp(testSecret), map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "north", body)

	status, _ = doWhoami(t, tenantEchoApp(testSecret), map[string]string{
		"Authorization": "Bearer " + token,
		TenantHeader:    "south",
	})
	require.Equal(t, fiber.StatusForbidden, status)
}

func TestJWTRejectsMissingOrForgedTokens(t *testing.T) {
	app := tenantEchoApp(testSecret)

	status, _ := doWhoami(t, app, nil)
	require.Equal(t, fiber.StatusUnauthorized, status)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	status, _ = doWhoami(t, app, map[string]string{"Authorization": "Bearer " + signed})
	require.Equal(t, fiber.StatusUnauthorized, status)
}

func TestValidTenantID(t *testing.T) {
	require.True(t, ValidTenantID("admin"))
	require.True(t, ValidTenantID("school_42"))
	require.False(t, ValidTenantID("-leading"))
	require.False(t, ValidTenantID("UPPER"))
	require.False(t, ValidTenantID(""))
}
