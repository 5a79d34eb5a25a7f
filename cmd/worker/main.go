// The worker binary consumes invoice and refund request events and carries
// out the work behind them: generating invoice numbers and issuing refunds
// through the payment gateway.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/articurated/orderflow/internal/config"
	"github.com/articurated/orderflow/internal/event"
	"github.com/articurated/orderflow/internal/payment"
	"github.com/articurated/orderflow/internal/repository/postgres"
	"github.com/articurated/orderflow/internal/worker"
	"github.com/articurated/orderflow/pkg/database"
	"github.com/articurated/orderflow/pkg/httpclient"
	pkgkafka "github.com/articurated/orderflow/pkg/kafka"
	"github.com/articurated/orderflow/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("orderflow-worker", cfg.LogLevel)
	log.Info("starting orderflow worker",
		slog.String("environment", cfg.Environment),
		slog.Any("brokers", cfg.KafkaBrokers),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("orderflow worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	defer initCancel()

	// PostgreSQL pool. The API server owns migrations; the worker only
	// needs a connection.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}
	pool, err := database.NewPostgresPool(initCtx, &pgCfg, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	database.RegisterPoolMetrics(pool, "orderflow-worker")

	// Consumer idempotency store. Redis makes the dedupe window survive
	// restarts; fall back to the in-memory store when Redis is unreachable.
	var store pkgkafka.IdempotencyStore
	redisClient, err := database.NewRedisClient(initCtx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Warn("redis unavailable, using in-memory idempotency store",
			slog.String("error", err.Error()),
		)
		store = pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
	} else {
		defer redisClient.Close()
		store = pkgkafka.NewRedisIdempotencyStore(redisClient, "orderflow:events", 24*time.Hour)
	}

	// Payment gateway behind a circuit breaker.
	httpClient := httpclient.New(httpclient.DefaultConfig())
	cbClient := httpclient.NewCircuitBreakerClient(httpClient, httpclient.DefaultCircuitBreakerConfig("payment-gateway"), log)
	gateway := payment.NewGateway(cbClient, cfg.PaymentGatewayURL, log)

	orderRepo := postgres.NewOrderRepository(pool)
	returnRepo := postgres.NewReturnRepository(pool)

	invoiceWorker := worker.NewInvoiceWorker(orderRepo, log)
	refundWorker := worker.NewRefundWorker(returnRepo, gateway, log)

	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, log)
	defer dlq.Close()

	invoiceConsumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  "orderflow-invoice-worker",
		Topic:    event.TopicInvoiceRequested,
		MinBytes: 1,
		MaxBytes: 10e6,
	}, pkgkafka.IdempotentHandler(store, invoiceWorker.Handle, log), log).WithDLQ(dlq)

	refundConsumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  "orderflow-refund-worker",
		Topic:    event.TopicRefundRequested,
		MinBytes: 1,
		MaxBytes: 10e6,
	}, pkgkafka.IdempotentHandler(store, refundWorker.Handle, log), log).WithDLQ(dlq)

	errCh := make(chan error, 2)
	go func() {
		if err := invoiceConsumer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("invoice consumer: %w", err)
		}
	}()
	go func() {
		if err := refundConsumer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("refund consumer: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	if err := invoiceConsumer.Close(); err != nil {
		log.Error("invoice consumer close error", slog.String("error", err.Error()))
	}
	if err := refundConsumer.Close(); err != nil {
		log.Error("refund consumer close error", slog.String("error", err.Error()))
	}

	return nil
}
