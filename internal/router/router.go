package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/grade-insight-api/internal/config"
	"github.com/noah-isme/grade-insight-api/internal/handler"
	"github.com/noah-isme/grade-insight-api/internal/middleware"
	"github.com/noah-isme/grade-insight-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	UploadHandler    *handler.UploadHandler
	GradebookHandler *handler.GradebookHandler
	HealthProbes     map[string]handler.HealthProbe
	JWTMiddleware    fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	v1 := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	v1.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))
	app.Get("/metrics", observability.MetricsHandler())

	// A nil JWTMiddleware leaves the gradebook routes open.
	if deps.UploadHandler != nil {
		guards := []fiber.Handler{
			deps.JWTMiddleware,
			middleware.RateLimit("upload", cfg.UploadsPerMinute, time.Minute),
		}
		if deps.JWTMiddleware != nil {
			guards = append(guards, middleware.RequireRole(middleware.RoleAdmin, middleware.RoleTeacher))
		}
		deps.UploadHandler.Register(app.Group("/upload"), guards...)
		deps.UploadHandler.Register(app.Group("/api/upload"), guards...)
	}

	if deps.GradebookHandler != nil {
		deps.GradebookHandler.Register(app.Group("/api"), deps.JWTMiddleware)
	}
}
