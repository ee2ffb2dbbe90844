package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/grade-insight-api/internal/middleware"
)

func withGuards(guards []fiber.Handler, handler fiber.Handler) []fiber.Handler {
	handlers := make([]fiber.Handler, 0, len(guards)+1)
	for _, guard := range guards {
		if guard != nil {
			handlers = append(handlers, guard)
		}
	}
	return append(handlers, handler)
}

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		ctx := base.With()
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			ctx = ctx.Str("correlation_id", correlation)
		}
		if tenant := middleware.TenantID(c); tenant != "" {
			ctx = ctx.Str("tenant_id", tenant)
		}
		logger = ctx.Logger()
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[toSnakeCase(fieldErr.Field())] = fieldErr.Tag()
	}
	return details
}

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
