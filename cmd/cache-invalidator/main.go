// Package main provides the cache invalidator entry point.
// Consumes source-change events and deletes the cached results they make stale.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxinsight/internal/config"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/cache"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxinsight/internal/observability/metrics"
	"github.com/drfirst/go-rxinsight/internal/observability/tracing"
	"github.com/drfirst/go-rxinsight/internal/service"
	"github.com/drfirst/go-rxinsight/pkg/idempotency"
	"github.com/drfirst/go-rxinsight/pkg/workerpool"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	logger, err := cfg.Logger()
	if err != nil {
		zap.NewExample().Fatal("logger init failed", zap.Error(err))
	}
	defer logger.Sync()

	if !cfg.HasCache() || !cfg.HasKafka() {
		logger.Fatal("REDIS_ADDR and KAFKA_BROKERS are required")
	}

	ctx := context.Background()
	tp, err := tracing.Init(ctx, tracing.FromConfig("cache-invalidator", cfg))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)

	rc, err := cache.NewRedis(ctx, cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.CacheTTL,
	}, logger)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer rc.Close()

	invalidator := service.NewInvalidator(rc, m, logger)
	inbox := idempotency.NewInbox(idempotency.NewRedisStore(rc.Client()), idempotency.DefaultInboxConfig(), logger)

	// Create worker pool
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = 2
	poolCfg.MaxRetries = 3

	workerPool, err := workerpool.New(poolCfg, func(ctx context.Context, e redpanda.SourceChangedEvent) error {
		err := inbox.Process(ctx, e.ID, "invalidate", func(ctx context.Context) error {
			_, err := invalidator.Handle(ctx, e)
			return err
		})
		if errors.Is(err, idempotency.ErrDuplicateMessage) || errors.Is(err, idempotency.ErrMessageInProgress) {
			logger.Debug("skipping redelivered event", zap.String("event_id", e.ID), zap.Error(err))
			return nil
		}
		return err
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}

	workerPool.Start()
	defer workerPool.Stop()

	// Create consumer
	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		e, err := redpanda.DecodeSourceChanged(msg.Value)
		if err != nil {
			// a malformed event will never decode; skip it instead of blocking the partition
			m.EventsConsumed.WithLabelValues(msg.Topic, "invalid").Inc()
			logger.Warn("dropping malformed event", zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		if err := workerPool.Submit(ctx, e); err != nil {
			m.EventsConsumed.WithLabelValues(msg.Topic, "error").Inc()
			return err
		}
		m.EventsConsumed.WithLabelValues(msg.Topic, "success").Inc()
		return nil
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("kafka admin creation failed", zap.Error(err))
	}
	defer admin.Close()
	lagCtx, stopLag := context.WithCancel(ctx)
	defer stopLag()
	go redpanda.WatchLag(lagCtx, admin, consumerCfg.GroupID, 30*time.Second, func(lag map[string]map[int32]int64) {
		m.SetConsumerLag(consumerCfg.GroupID, lag)
	}, logger)

	consumer.Start()
	logger.Info("cache invalidator started", zap.Strings("brokers", cfg.KafkaBrokers))

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)

	stats := workerPool.Stats()
	logger.Info("cache invalidator stopped",
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed))
}
