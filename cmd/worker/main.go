package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/payout-engine/internal/config"
	"github.com/kursadbilgin/payout-engine/internal/disbursement"
	"github.com/kursadbilgin/payout-engine/internal/handler"
	"github.com/kursadbilgin/payout-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/payout-engine/internal/infra/redis"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"github.com/kursadbilgin/payout-engine/internal/notify"
	"github.com/kursadbilgin/payout-engine/internal/observability"
	"github.com/kursadbilgin/payout-engine/internal/queue"
	"github.com/kursadbilgin/payout-engine/internal/repository"
	"github.com/kursadbilgin/payout-engine/internal/service"
	"github.com/kursadbilgin/payout-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.RequireWorker(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("payout worker stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	settings, err := cfg.Settings()
	if err != nil {
		return fmt.Errorf("invalid run settings: %w", err)
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	runLock, err := infraredis.NewRedisRunLock(rdb, cfg.RunLockTTL())
	if err != nil {
		return err
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL, "payout-worker")
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerPrefetch, logger)
	defer consumer.Close() //nolint:errcheck

	metrics := observability.NewMetrics()

	dialer := ledger.NewRPCDialer(cfg.LedgerOptions(), logger)
	engine, err := disbursement.NewEngine(
		repository.NewGormBatchRepo(db),
		dialer,
		cfg.KeyMaterial(),
		settings,
		logger,
	)
	if err != nil {
		return err
	}
	engine.SetMetrics(metrics)

	fundingAddress, err := engine.FundingAddress()
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.ResultWebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(cfg.ResultWebhookURL, cfg.ResultWebhookKey)
		if err != nil {
			return err
		}
		notifier = webhook
	}

	worker, err := service.NewPayoutWorker(engine, runLock, consumer, notifier, runLock.TTL(), logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	ops := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	handler.RegisterHealthRoutes(ops,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.BrokerCheck("rabbitmq", rabbit.IsConnected),
	)
	ops.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	logger.Info("payout worker starting",
		zap.String("fundingAddress", fundingAddress),
		zap.String("ledgerEndpoint", settings.Endpoint),
		zap.Int("metricsPort", cfg.MetricsPort),
		zap.Stringer("config", cfg),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return ops.Listen(fmt.Sprintf(":%d", cfg.MetricsPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return ops.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}
