// Package app builds the long-lived components shared by the binaries: the
// record store, the snapshot store and the index engine, each selected and
// tuned by config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/recordstore"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/blob"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/postgres"
)

func appLogger() *slog.Logger {
	return slog.Default().With("component", "app")
}

// OpenStore connects the configured record store backend. The postgres
// backend creates its tables if they are missing.
func OpenStore(ctx context.Context, cfg *config.Config) (recordstore.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		appLogger().Warn("using in-memory record store, data is lost on exit")
		return recordstore.NewMemoryStore(), nil
	case "postgres":
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		store := recordstore.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("preparing record store schema: %w", err)
		}
		appLogger().Info("record store ready", "backend", "postgres", "database", cfg.Postgres.Database)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// OpenSnapshots opens the configured blob backend for index snapshots.
func OpenSnapshots(ctx context.Context, cfg *config.Config) (*segment.Store, error) {
	var (
		blobs blob.Store
		err   error
	)
	switch cfg.Snapshot.Backend {
	case "local":
		blobs, err = blob.NewLocalStore(cfg.Snapshot.DataDir)
	case "minio":
		blobs, err = blob.NewMinioStore(ctx, cfg.Snapshot.Minio)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s snapshot storage: %w", cfg.Snapshot.Backend, err)
	}
	snaps, err := segment.NewStore(blobs, cfg.Snapshot.KeepSnapshots, cfg.Snapshot.Compression)
	if err != nil {
		return nil, err
	}
	appLogger().Info("snapshot store ready",
		"backend", cfg.Snapshot.Backend,
		"keep", cfg.Snapshot.KeepSnapshots,
	)
	return snaps, nil
}

// NewEngine builds the index engine. snaps and notifier may be nil; without
// snapshots every start rebuilds from the record store.
func NewEngine(cfg *config.Config, store recordstore.Store, snaps *segment.Store, notifier kafka.Publisher, m *metrics.Metrics) *indexer.Engine {
	opts := indexer.Options{
		Store:     store,
		Tokenizer: tokenizer.New(cfg.Tokenizer),
		Notifier:  notifier,
		Metrics:   m,
		Config:    cfg.Indexer,
	}
	if snaps != nil {
		opts.Snapshots = snaps
	}
	return indexer.New(opts)
}

// NewExecutor builds the query executor over engine and store.
func NewExecutor(cfg *config.Config, engine *indexer.Engine, store recordstore.Store, m *metrics.Metrics) *executor.Executor {
	return executor.New(executor.Options{
		Index:   engine,
		Records: store,
		Ranker:  ranker.New(cfg.Ranking),
		Schema:  tokenizer.NewSchema(cfg.Tokenizer.FieldWeights),
		Config:  cfg.Search,
		Metrics: m,
	})
}

// RegisterChecks adds the record store and index checks to checker.
func RegisterChecks(checker *health.Checker, store recordstore.Store, engine *indexer.Engine) {
	checker.Register("record_store", health.PingCheck(store.Ping))
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		st := engine.Stats()
		msg := fmt.Sprintf("cursor %d, %d docs", st.Cursor, st.Docs)
		if st.LastSyncError != "" {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: msg + ": " + st.LastSyncError}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: msg}
	})
}

// SearchRoutes mounts the search API and health probes. Only queries get the
// query deadline; index sync and rebuild run as long as they need to.
func SearchRoutes(h *handler.Handler, checker *health.Checker, queryTimeout time.Duration) http.Handler {
	api := http.NewServeMux()
	h.Register(api)
	api.HandleFunc("GET /health/live", checker.LiveHandler())
	api.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/search", middleware.Timeout(queryTimeout)(api))
	mux.Handle("/", api)
	return mux
}
