// Command searcher serves package search over HTTP.
//
// It embeds the index engine: on start it restores the newest snapshot,
// catches up with the record store and keeps syncing in the background.
// When Kafka is configured it also listens for index.synced events from the
// indexer worker and syncs immediately.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml] [-persist=false]
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
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	persist := flag.Bool("persist", true, "write index snapshots (disable when a separate indexer owns them)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"snapshots", *persist,
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

	var snaps *segment.Store
	if *persist {
		snaps, err = app.OpenSnapshots(ctx, cfg)
		if err != nil {
			slog.Error("failed to open snapshot store", "error", err)
			os.Exit(1)
		}
		defer snaps.Close()
	}

	engine := app.NewEngine(cfg, store, snaps, nil, m)
	res, err := engine.Open(ctx)
	if err != nil {
		// Serve what was restored; the sync loop keeps retrying.
		slog.Error("initial index sync failed", "error", err)
	} else {
		slog.Info("index ready", "cursor", res.Cursor, "applied", res.Applied)
	}
	engine.StartSyncLoop(ctx)

	if cfg.Kafka.Enabled() {
		host, _ := os.Hostname()
		syncCfg := cfg.Kafka
		syncCfg.ConsumerGroup = fmt.Sprintf("%s-searcher-%s", cfg.Kafka.ConsumerGroup, host)
		syncConsumer := kafka.NewConsumer(syncCfg, cfg.Kafka.Topics.IndexSynced, consumer.HandleSyncEvent(engine))
		defer syncConsumer.Close()
		go func() {
			if err := syncConsumer.Start(ctx); err != nil {
				slog.Error("index.synced consumer error", "error", err)
			}
		}()
		slog.Info("listening for index sync events", "topic", cfg.Kafka.Topics.IndexSynced)
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	checker := health.NewChecker()
	app.RegisterChecks(checker, store, engine)
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	exec := app.NewExecutor(cfg, engine, store, m)
	h := handler.New(exec, engine, store, queryCache, m)

	if cfg.Metrics.Enabled {
		admin := metrics.NewAdminServer(cfg.Metrics.Port, nil)
		admin.Handle("GET /health/ready", checker.ReadyHandler())
		admin.Start()
		defer admin.Shutdown(context.Background())
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(app.SearchRoutes(h, checker, cfg.Search.QueryTimeout),
			middleware.RequestID,
			middleware.Metrics(m),
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := engine.Close(closeCtx); err != nil {
		slog.Error("final snapshot failed", "error", err)
	}
	slog.Info("search service stopped")
}
