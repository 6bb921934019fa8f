package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"notification-engine/internal/config"
	"notification-engine/internal/handler"
	"notification-engine/internal/infra/postgresql"
	"notification-engine/internal/infra/postgresql/migrations"
	infraredis "notification-engine/internal/infra/redis"
	"notification-engine/internal/mailbody"
	"notification-engine/internal/observability"
	"notification-engine/internal/repository"
	"notification-engine/internal/service"
	"notification-engine/internal/transport"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	notifications := repository.NewGormNotificationRepo(db)
	targets := repository.NewGormTargetRepo(db)
	optouts := repository.NewGormOptOutRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	renderer, err := mailbody.NewRenderer()
	if err != nil {
		logger.Fatal("email template renderer init failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	creator, err := service.NewCreator(notifications, targets, optouts, renderer, logger)
	if err != nil {
		logger.Fatal("creator init failed", zap.Error(err))
	}
	creator.SetMetrics(metrics)

	optoutService, err := service.NewOptOutService(optouts, logger)
	if err != nil {
		logger.Fatal("opt-out service init failed", zap.Error(err))
	}
	optoutService.SetMetrics(metrics)

	backfill, err := service.NewBackfillService(targets, logger)
	if err != nil {
		logger.Fatal("backfill service init failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterNotificationRoutes(app, creator, notifications, attempts); err != nil {
		logger.Fatal("notification routes init failed", zap.Error(err))
	}
	if err := handler.RegisterUserRoutes(app, optoutService, backfill); err != nil {
		logger.Fatal("user routes init failed", zap.Error(err))
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("notification-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("api server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
