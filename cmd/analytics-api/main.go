// Package main provides the analytics API service entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxinsight/internal/api/handlers"
	"github.com/drfirst/go-rxinsight/internal/api/middleware"
	"github.com/drfirst/go-rxinsight/internal/config"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/cache"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxinsight/internal/lookup"
	"github.com/drfirst/go-rxinsight/internal/observability/metrics"
	"github.com/drfirst/go-rxinsight/internal/observability/tracing"
	"github.com/drfirst/go-rxinsight/internal/service"
	"github.com/drfirst/go-rxinsight/pkg/circuitbreaker"
)

const serviceName = "analytics-api"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	// Initialize logger
	logger, err := cfg.Logger()
	if err != nil {
		zap.NewExample().Fatal("logger init failed", zap.Error(err))
	}
	defer logger.Sync()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.FromConfig(serviceName, cfg))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Lookups are required; a missing table is fatal
	resolver, err := lookup.Load(cfg.Lookups())
	if err != nil {
		logger.Fatal("failed to load lookups", zap.Error(err))
	}
	for _, dim := range lookup.Dimensions {
		logger.Info("lookup loaded", zap.String("dimension", string(dim)), zap.Int("entries", resolver.Len(dim)))
	}

	opts := []service.Option{service.WithMetrics(m)}
	checks := map[string]handlers.Check{}

	if cfg.HasDatabase() {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")

		bcfg := circuitbreaker.DefaultConfig("fact-db")
		bcfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
			m.SetBreakerState(name, string(to))
		}
		breaker, err := circuitbreaker.New(bcfg, logger)
		if err != nil {
			logger.Fatal("circuit breaker creation failed", zap.Error(err))
		}
		m.SetBreakerState(breaker.Name(), string(breaker.State()))

		table := postgres.TableRef{Schema: cfg.FactSchema, Table: cfg.FactTable}
		opts = append(opts, service.WithFacts(postgres.NewFactRepository(pool, table, breaker, logger)))
		checks["database"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		checks["breaker"] = func(context.Context) error {
			if !breaker.Healthy() {
				return circuitbreaker.ErrOpen
			}
			return nil
		}
	} else {
		logger.Warn("DATABASE_URL not set, execute-query is disabled")
	}

	if cfg.HasCache() {
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
		opts = append(opts, service.WithCache(rc))
		checks["cache"] = rc.Ping
	}

	if cfg.HasKafka() {
		admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.Fatal("kafka admin creation failed", zap.Error(err))
		}
		if err := admin.EnsureTopics(ctx); err != nil {
			logger.Warn("topic creation failed", zap.Error(err))
		}
		admin.Close()

		pcfg := redpanda.DefaultProducerConfig()
		pcfg.Brokers = cfg.KafkaBrokers
		producer, err := redpanda.NewProducer(pcfg, logger)
		if err != nil {
			logger.Fatal("producer creation failed", zap.Error(err))
		}
		defer producer.Close()
		opts = append(opts, service.WithPublisher(producer))
		brokers := cfg.KafkaBrokers
		checks["kafka"] = func(ctx context.Context) error { return redpanda.HealthCheck(ctx, brokers) }
	}

	analyzer := service.NewAnalyzer(service.Config{
		BrandFile:   cfg.BrandPath(),
		GenericFile: cfg.GenericPath(),
		CSV:         cfg.CSV(),
	}, resolver, logger, opts...)

	// Initialize handlers
	analyticsHandler := handlers.NewAnalyticsHandler(analyzer, logger)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", handlers.Health(serviceName))
	r.Get("/ready", handlers.Ready(checks))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Mount("/api/v1", analyticsHandler.Routes())

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting analytics API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}
