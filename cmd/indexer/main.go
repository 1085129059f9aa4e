package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/gridindex"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/metrics"
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
	slog.Info("starting grid indexer")

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
	catalog := filters.NewLookup(filters.NewPostgresCatalog(db), cfg.Matching.CatalogRefresh)
	maintainer := gridindex.NewMaintainer(store, filters.NewPostgresStore(db), catalog, gridindex.WithMetrics(m))

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, metrics.Handler()); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PersonChanges, consumer.HandleMessage(maintainer))
	indexConsumer := consumer.New(kafkaConsumer)
	slog.Info("grid indexer ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.PersonChanges,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("grid indexer stopped")
}
