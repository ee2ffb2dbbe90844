package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/grade-insight-api/internal/utils"
)

// RateLimit creates a per-tenant, per-caller rate limiter middleware instance.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			caller, _ := c.Locals(LocalUserID).(string)
			if caller == "" {
				caller = c.IP()
			}
			return fmt.Sprintf("%s:%s:%s", identifier, TenantID(c), caller)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many uploads, try again later")
		},
	})
}
