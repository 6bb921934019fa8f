package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notification-engine/internal/channel"
	"notification-engine/internal/config"
	"notification-engine/internal/infra/postgresql"
	"notification-engine/internal/infra/postgresql/migrations"
	infraredis "notification-engine/internal/infra/redis"
	"notification-engine/internal/observability"
	"notification-engine/internal/provider"
	"notification-engine/internal/queue"
	"notification-engine/internal/ratelimit"
	"notification-engine/internal/repository"
	"notification-engine/internal/service"
)

func main() {
	once := flag.Bool("once", false, "run a single dispatch pass and exit")
	flag.Parse()

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

	notifications := repository.NewGormNotificationRepo(db)
	targets := repository.NewGormTargetRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	metrics := observability.NewMetrics()

	lifecycle, err := channel.NewLifecycle(notifications, targets, attempts, logger)
	if err != nil {
		logger.Fatal("lifecycle init failed", zap.Error(err))
	}
	lifecycle.SetMetrics(metrics)

	registry := channel.BuildRegistry(cfg.ChannelKeys(), handlerFactories(cfg, lifecycle), logger)

	var limiter ratelimit.RateLimiter = ratelimit.Unlimited{}
	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		limiter, err = infraredis.NewSendRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			logger.Fatal("rate limiter init failed", zap.Error(err))
		}
	}

	senderOpts := service.SenderOptions{
		BatchLimit:  cfg.DispatchBatchLimit,
		Concurrency: cfg.WorkerConcurrency,
		SendTimeout: time.Duration(cfg.SendTimeoutSec) * time.Second,
		ClaimTTL:    time.Duration(cfg.DispatchClaimTTL) * time.Minute,
	}

	var publisher queue.Publisher
	var consumer queue.Consumer
	if cfg.AsyncDispatch {
		broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer broker.Close()

		publisher = queue.NewRabbitMQPublisher(broker)
		consumer = queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)
		senderOpts.Async = true
		senderOpts.Publisher = publisher
	}

	sender, err := service.NewSender(notifications, registry, limiter, senderOpts, logger)
	if err != nil {
		logger.Fatal("sender init failed", zap.Error(err))
	}
	sender.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		stats, err := sender.DispatchPass(ctx)
		if err != nil {
			logger.Fatal("dispatch pass failed", zap.Error(err))
		}
		logger.Info("single dispatch pass finished",
			zap.Int("due", stats.Due),
			zap.Int("sent", stats.Sent),
			zap.Int("queued", stats.Queued),
			zap.Int("failed", stats.Failed),
		)
		return
	}

	g, groupCtx := errgroup.WithContext(ctx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.DispatchCron, func() {
		if _, err := sender.DispatchPass(groupCtx); err != nil && groupCtx.Err() == nil {
			logger.Error("dispatch pass failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("invalid dispatch cron expression",
			zap.String("cron", cfg.DispatchCron),
			zap.Error(err),
		)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.AsyncDispatch {
		worker, err := service.NewWorker(
			notifications,
			registry,
			consumer,
			limiter,
			cfg.WorkerConcurrency,
			time.Duration(cfg.SendTimeoutSec)*time.Second,
			logger,
		)
		if err != nil {
			logger.Fatal("worker init failed", zap.Error(err))
		}
		worker.SetMetrics(metrics)

		g.Go(func() error {
			return worker.Start(groupCtx)
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: mux,
	}
	g.Go(func() error {
		<-groupCtx.Done()
		return metricsServer.Close()
	})
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("notification-engine dispatcher started",
		zap.String("cron", cfg.DispatchCron),
		zap.Bool("async", cfg.AsyncDispatch),
		zap.Strings("channels", registry.Keys()),
	)

	<-groupCtx.Done()
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("dispatcher stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("dispatcher stopped")
}

// handlerFactories binds each channel key to its provider construction. A
// channel with missing credentials fails its factory and is skipped by the
// registry.
func handlerFactories(cfg *config.Config, lifecycle *channel.Lifecycle) map[string]channel.Factory {
	return map[string]channel.Factory{
		"email": func() (channel.Handler, error) {
			client, err := provider.NewPostmarkEmailClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.EmailFrom)
			if err != nil {
				return nil, err
			}
			return channel.NewEmailHandler(client, lifecycle)
		},
		"push": func() (channel.Handler, error) {
			client, err := provider.NewExpoPushClient(cfg.ExpoPushURL, cfg.ExpoAccessToken)
			if err != nil {
				return nil, err
			}
			return channel.NewPushHandler(client, lifecycle)
		},
		"sms": func() (channel.Handler, error) {
			client, err := provider.NewTwilioSMSClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioSender)
			if err != nil {
				return nil, err
			}
			return channel.NewSMSHandler(client, lifecycle)
		},
	}
}
