// Command ingestion feeds package records into the system.
//
// By default it serves PUT/DELETE /api/v1/packages/{id} and POST
// /api/v1/events. With -dump it loads a JSON-lines registry dump and exits.
// Changes go to the package-updates Kafka topic when brokers are
// configured, otherwise straight into the record store.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml] [-dump crates.jsonl] [-batch 500]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/app"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/recordstore"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	dumpPath := flag.String("dump", "", "load a JSON-lines dump and exit")
	batchSize := flag.Int("batch", 500, "events per batch when loading a dump")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		producer *kafka.Producer
		store    recordstore.Store
	)
	if cfg.Kafka.Enabled() {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PackageUpdates)
		defer producer.Close()
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.PackageUpdates)
	} else {
		store, err = app.OpenStore(ctx, cfg)
		if err != nil {
			slog.Error("failed to open record store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		slog.Info("kafka not configured, writing to the record store directly", "backend", cfg.Store.Backend)
	}

	var pub *publisher.Publisher
	if producer != nil {
		pub = publisher.New(producer, nil)
	} else {
		pub = publisher.New(nil, store)
	}

	if *dumpPath != "" {
		f, err := os.Open(*dumpPath)
		if err != nil {
			slog.Error("failed to open dump", "path", *dumpPath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		stats, err := pub.LoadDump(ctx, f, *batchSize)
		if err != nil {
			slog.Error("dump load failed", "path", *dumpPath, "lines", stats.Lines, "error", err)
			os.Exit(1)
		}
		slog.Info("dump loaded", "path", *dumpPath, "upserts", stats.Upserts, "deletes", stats.Deletes, "skipped", stats.Skipped)
		return
	}

	m := metrics.New()
	checker := health.NewChecker()
	if store != nil {
		checker.Register("record_store", health.PingCheck(store.Ping))
	}
	if cfg.Metrics.Enabled {
		admin := metrics.NewAdminServer(cfg.Metrics.Port, nil)
		admin.Handle("GET /health/ready", checker.ReadyHandler())
		admin.Start()
		defer admin.Shutdown(context.Background())
	}

	mux := http.NewServeMux()
	handler.New(pub).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Metrics(m),
			middleware.Timeout(cfg.Server.WriteTimeout),
		),
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
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
