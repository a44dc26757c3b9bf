// Command indexer is the background index worker. It applies package events
// from the package-updates topic to the record store, keeps the index in
// sync with the store, writes snapshots and announces each new generation
// on the index.synced topic.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml] [-rebuild] [-once]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/app"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	rebuild := flag.Bool("rebuild", false, "discard the index and rebuild it from the whole change feed")
	once := flag.Bool("once", false, "sync once, write a snapshot and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service",
		"store", cfg.Store.Backend,
		"snapshots", cfg.Snapshot.Backend,
		"batch_size", cfg.Indexer.BatchSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open record store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	snaps, err := app.OpenSnapshots(ctx, cfg)
	if err != nil {
		slog.Error("failed to open snapshot store", "error", err)
		os.Exit(1)
	}
	defer snaps.Close()

	var notifier kafka.Publisher
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexSynced)
		defer producer.Close()
		notifier = producer
	}

	engine := app.NewEngine(cfg, store, snaps, notifier, m)
	if *rebuild {
		res, err := engine.Rebuild(ctx)
		if err != nil {
			slog.Error("rebuild failed", "error", err)
			os.Exit(1)
		}
		slog.Info("index rebuilt", "cursor", res.Cursor, "applied", res.Applied, "persisted", res.Persisted)
	} else {
		res, err := engine.Open(ctx)
		if err != nil {
			slog.Error("initial index sync failed", "error", err)
			if *once {
				os.Exit(1)
			}
		} else {
			slog.Info("index ready", "cursor", res.Cursor, "applied", res.Applied)
		}
	}
	if *once {
		if err := engine.Close(ctx); err != nil {
			slog.Error("writing snapshot failed", "error", err)
			os.Exit(1)
		}
		slog.Info("indexer finished", "cursor", engine.Current().Cursor())
		return
	}

	if cfg.Metrics.Enabled {
		checker := health.NewChecker()
		app.RegisterChecks(checker, store, engine)
		admin := metrics.NewAdminServer(cfg.Metrics.Port, nil)
		admin.Handle("GET /health/live", checker.LiveHandler())
		admin.Handle("GET /health/ready", checker.ReadyHandler())
		admin.Start()
		defer admin.Shutdown(context.Background())
	}

	engine.StartSyncLoop(ctx)

	if cfg.Kafka.Enabled() {
		kafkaConsumer := kafka.NewConsumer(
			cfg.Kafka,
			cfg.Kafka.Topics.PackageUpdates,
			consumer.HandlePackageEvent(store, m),
		)
		packageConsumer := consumer.New(kafkaConsumer)
		slog.Info("indexer service ready, consuming from kafka",
			"topic", cfg.Kafka.Topics.PackageUpdates,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := packageConsumer.Start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
		}
		kafkaConsumer.Close()
	} else {
		slog.Info("kafka not configured, syncing from the record store only")
		<-ctx.Done()
	}

	slog.Info("writing final snapshot before shutdown")
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := engine.Close(closeCtx); err != nil {
		slog.Error("final snapshot failed", "error", err)
	}
	slog.Info("indexer service stopped")
}
