package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/satellite-dispatch/internal/config"
	"github.com/kursadbilgin/satellite-dispatch/internal/dispatcher"
	"github.com/kursadbilgin/satellite-dispatch/internal/handler"
	"github.com/kursadbilgin/satellite-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/satellite-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/satellite-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/satellite-dispatch/internal/modem"
	"github.com/kursadbilgin/satellite-dispatch/internal/observability"
	"github.com/kursadbilgin/satellite-dispatch/internal/phone"
	"github.com/kursadbilgin/satellite-dispatch/internal/queue"
	"github.com/kursadbilgin/satellite-dispatch/internal/repository"
	"github.com/kursadbilgin/satellite-dispatch/internal/tracker"
	"github.com/kursadbilgin/satellite-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	replyPrefetch   = 16
	shutdownTimeout = 10 * time.Second
	waitGrace       = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

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

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.ModemRequestQueue, cfg.ModemReplyQueue)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	satModem, err := modem.NewAMQPModem(
		queue.NewRabbitMQPublisher(rabbit),
		queue.NewRabbitMQConsumer(rabbit, replyPrefetch, logger),
		modem.AMQPConfig{
			RequestQueue: cfg.ModemRequestQueue,
			ReplyQueue:   cfg.ModemReplyQueue,
			Enabled:      cfg.ModemEnabled,
			Connected:    rabbit.IsConnected,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("modem initialization failed", zap.Error(err))
	}
	if err := satModem.SetMetrics(metrics); err != nil {
		logger.Fatal("modem metrics registration failed", zap.Error(err))
	}

	phones, err := phone.BuildRegistry(cfg.PhoneLines, cfg.PhoneTimeout(), logger)
	if err != nil {
		logger.Fatal("phone line initialization failed", zap.Error(err))
	}

	stateStore, err := infraredis.NewStateStore(rdb, cfg.StateTTL())
	if err != nil {
		logger.Fatal("state store initialization failed", zap.Error(err))
	}

	events := repository.NewGormTransferEventRepo(db)

	transferTracker := tracker.NewController(events, stateStore, logger)
	transferTracker.SetMetrics(metrics)
	defer transferTracker.Close()

	roaming := cfg.SatelliteRoaming
	disp, err := dispatcher.NewDispatcher(
		transferTracker,
		satModem,
		phones,
		logger,
		dispatcher.WithSendTimeout(cfg.SendTimeout()),
		dispatcher.WithRoaming(func(int) bool { return roaming }),
		dispatcher.WithMetrics(metrics),
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit.IsConnected)
	handler.RegisterMetricsRoute(app, metrics)

	var waitTimeout time.Duration
	if cfg.SendTimeout() > 0 {
		waitTimeout = cfg.SendTimeout() + waitGrace
	}
	if err := handler.RegisterDatagramRoutes(app, handler.DatagramDeps{
		Dispatcher:  disp,
		Statuses:    transferTracker,
		Store:       stateStore,
		Events:      events,
		Limiter:     limiter,
		WaitTimeout: waitTimeout,
		Logger:      logger,
	}); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return satModem.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("satellite-dispatch api started",
			zap.Int("port", cfg.APIPort),
			zap.Bool("modemEnabled", cfg.ModemEnabled),
			zap.Ints("phoneLines", phones.Subscriptions()),
		)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Closing the dispatcher first fails pending sends with REQUEST_ABORTED,
		// which releases the HTTP requests waiting on them.
		if err := disp.Close(); err != nil {
			logger.Warn("dispatcher close failed", zap.Error(err))
		}
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("satellite-dispatch stopped with error", zap.Error(err))
	}
}
