package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func roleApp(role string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if role != "" {
			c.Locals(LocalUserRole, role)
		}
		return c.Next()
	})
	app.Use(RequireRole(RoleAdmin, RoleTeacher))
	app.Post("/upload", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestRequireRoleAllowsAuthorizedRoles(t *testing.T) {
	for _, role := range []string{"admin", "Teacher"} {
		resp, err := roleApp(role).Test(httptest.NewRequest(http.MethodPost, "/upload", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, role)
	}
}

func TestRequireRoleRejectsUnauthorizedRoles(t *testing.T) {
	for _, role := range []string{RoleViewer, ""} {
		resp, err := roleApp(role).Test(httptest.NewRequest(http.MethodPost, "/upload", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusForbidden, resp.StatusCode, role)
	}
}
