package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/grade-insight-api/internal/config"
	"github.com/noah-isme/grade-insight-api/internal/database"
	"github.com/noah-isme/grade-insight-api/internal/handler"
	"github.com/noah-isme/grade-insight-api/internal/middleware"
	"github.com/noah-isme/grade-insight-api/internal/repository"
	"github.com/noah-isme/grade-insight-api/internal/router"
	"github.com/noah-isme/grade-insight-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	gradebookRepo := repository.NewGradebookRepository(db)
	importBatchRepo := repository.NewImportBatchRepository(db)

	if err := database.Bootstrap(context.Background(), gradebookRepo, cfg.DefaultTenant); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap default tenant")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis not configured; query cache and cross-instance import lock disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	cache := service.NewGradebookCache(redisClient, cfg.CacheTTL, logger)
	locker := service.NewTenantLocker(redisClient, cfg.ImportLockTTL)
	importService := service.NewImportService(gradebookRepo, importBatchRepo, locker, cache, natsConn, validate, service.ImportServiceConfig{
		MaxSizeMB:     cfg.UploadMaxSizeMB,
		SubjectPrefix: cfg.NATSSubjectPrefix,
	}, logger)
	queryService := service.NewGradebookQueryService(gradebookRepo, importBatchRepo, cache, validate, logger)

	uploadHandler := handler.NewUploadHandler(importService, cfg.UploadMaxSizeMB, logger)
	gradebookHandler := handler.NewGradebookHandler(queryService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:        &logger,
		DefaultTenant: cfg.DefaultTenant,
		AccessLog:     cfg.IsDevelopment(),
	})

	var jwtMiddleware fiber.Handler
	if cfg.JWTSecret != "" {
		jwtMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}

	router.Register(app, cfg, router.Dependencies{
		UploadHandler:    uploadHandler,
		GradebookHandler: gradebookHandler,
		HealthProbes:     healthProbes(db, redisClient),
		JWTMiddleware:    jwtMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
