package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func correlationApp() *fiber.App {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		if CorrelationIDFromContext(c.UserContext()) != GetCorrelationID(c) {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(GetCorrelationID(c))
	})
	return app
}

func TestCorrelationIDPropagation(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "correlation header", headers: map[string]string{CorrelationHeader: "abc-123"}, want: "abc-123"},
		{name: "request id fallback", headers: map[string]string{"X-Request-ID": "req-9"}, want: "req-9"},
		{name: "generated", headers: nil},
		{name: "oversized replaced", headers: map[string]string{CorrelationHeader: strings.Repeat("x", 200)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			resp, err := correlationApp().Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			echoed := resp.Header.Get(CorrelationHeader)
			require.NotEmpty(t, echoed)
			if tc.want != "" {
				require.Equal(t, tc.want, echoed)
			} else {
				require.Len(t, echoed, 36)
			}
		})
	}
}
