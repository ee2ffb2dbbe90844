package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// CorrelationHeader carries the request identifier across services.
const CorrelationHeader = "X-Correlation-ID"

const localCorrelationID = "correlation_id"

type correlationIDKey struct{}

var correlationKey = correlationIDKey{}

// CorrelationID reuses an incoming X-Correlation-ID or X-Request-ID, or mints
// a new one, and echoes it on the response.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(CorrelationHeader))
		if id == "" {
			id = strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		}
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		c.Locals(localCorrelationID, id)
		c.Set(CorrelationHeader, id)
		c.SetUserContext(context.WithValue(c.UserContext(), correlationKey, id))

		return c.Next()
	}
}

// CorrelationIDFromContext extracts the identifier stored by CorrelationID.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

// GetCorrelationID returns the correlation identifier bound to the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(localCorrelationID).(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.UserContext())
}
