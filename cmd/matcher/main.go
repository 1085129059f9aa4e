package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/geo"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/gridindex"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer/publisher"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/matcher/handler"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/matcher/pool"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting matcher service", "port", cfg.Server.Port, "workers", cfg.Matching.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	store := gridindex.NewBreakerStore(gridindex.NewRedisStore(redisClient), resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Redis.BreakerFailures,
		ResetTimeout:     cfg.Redis.BreakerReset,
	}, m)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	filterStore := filters.NewPostgresStore(db)

	grid, err := geo.NewSquareGrid(cfg.Matching.CellSizeKm)
	if err != nil {
		slog.Error("invalid grid", "error", err)
		os.Exit(1)
	}

	resolver := matcher.NewResolver(store, grid, filterStore,
		matcher.WithDefaultRadius(cfg.Matching.DefaultRadiusMiles),
		matcher.WithMaxRadius(cfg.Matching.MaxRadiusMiles),
		matcher.WithMetrics(m),
	)
	workers := pool.New(resolver, pool.Config{Workers: cfg.Matching.Workers}, pool.WithMetrics(m))
	workers.Initialize()
	defer workers.Shutdown()
	slog.Info("match pool initialized", "workers", workers.Stats().Workers)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PersonChanges)
	defer producer.Close()
	changes := publisher.New(producer)

	checker := health.NewChecker(cfg.Server.ReadTimeout / 10)
	checker.RegisterPing("redis", true, redisClient.Ping)
	checker.RegisterPing("postgres", true, db.Ping)
	checker.RegisterPing("kafka", false, producer.Ping)
	checker.Register("grid_store_breaker", func(context.Context) health.ComponentHealth {
		if state := store.State(); state != resilience.StateClosed {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit " + state.String()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("match_pool", func(context.Context) health.ComponentHealth {
		s := workers.Stats()
		if !s.Running || s.Workers == 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "pool not running"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d/%d idle, %d queued", s.Idle, s.Workers, s.Queued)}
	})

	var traceSample float64
	if cfg.Tracing.Enabled {
		traceSample = cfg.Tracing.SampleRate
	}
	h := handler.New(workers, changes, cfg.Matching.RequestTimeout, traceSample)

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, metrics.Handler()); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("matcher service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("matcher service stopped")
}
