// Package indexer keeps the inverted index in step with the record store.
// The Engine folds the store's change feed into successive immutable index
// generations, publishes each with an atomic swap, and persists snapshots so
// a restart resumes from the last durable cursor.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/recordstore"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

// SnapshotStore persists generations. segment.Store implements it.
type SnapshotStore interface {
	Save(ctx context.Context, g *index.Generation) (string, error)
	LoadLatest(ctx context.Context) (*index.Generation, string, error)
	Discard(ctx context.Context, name string) error
}

// Options wires an Engine. Store and Tokenizer are required; the rest may
// be nil.
type Options struct {
	Store     recordstore.Store
	Tokenizer *tokenizer.Tokenizer
	Snapshots SnapshotStore
	Notifier  kafka.Publisher
	Metrics   *metrics.Metrics
	Config    config.IndexerConfig
}

// SyncResult describes one sync run.
type SyncResult struct {
	StartCursor uint64        `json:"start_cursor"`
	Cursor      uint64        `json:"cursor"`
	Applied     int           `json:"applied"`
	Upserted    int           `json:"upserted"`
	Deleted     int           `json:"deleted"`
	Batches     int           `json:"batches"`
	Persisted   bool          `json:"persisted"`
	Duration    time.Duration `json:"duration_ns"`
}

// SyncEvent is published after a sync that applied changes.
type SyncEvent struct {
	Cursor  uint64    `json:"cursor"`
	Applied int       `json:"applied"`
	Docs    int       `json:"docs"`
	At      time.Time `json:"at"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Cursor        uint64    `json:"cursor"`
	DurableCursor uint64    `json:"durable_cursor"`
	Docs          int       `json:"docs"`
	Terms         int       `json:"terms"`
	Postings      int       `json:"postings"`
	BuiltAt       time.Time `json:"built_at"`
	LastSyncAt    time.Time `json:"last_sync_at,omitzero"`
	LastSyncError string    `json:"last_sync_error,omitempty"`
}

// Engine is the single writer of index generations. Readers call Current
// and never block on a sync.
type Engine struct {
	store     recordstore.Store
	tok       *tokenizer.Tokenizer
	snapshots SnapshotStore
	notifier  kafka.Publisher
	metrics   *metrics.Metrics
	cfg       config.IndexerConfig
	logger    *slog.Logger

	current atomic.Pointer[index.Generation]
	durable atomic.Uint64
	group   singleflight.Group
	syncMu  sync.Mutex

	statsMu     sync.Mutex
	lastSyncAt  time.Time
	lastSyncErr error
}

// New returns an Engine serving the empty generation. Call Open to restore
// the latest snapshot and catch up with the store.
func New(opts Options) *Engine {
	cfg := opts.Config
	defaults := config.Default().Indexer
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaults.SyncTimeout
	}
	tok := opts.Tokenizer
	if tok == nil {
		tok = tokenizer.Default()
	}
	e := &Engine{
		store:     opts.Store,
		tok:       tok,
		snapshots: opts.Snapshots,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		cfg:       cfg,
		logger:    slog.Default().With("component", "indexer"),
	}
	e.current.Store(index.Empty())
	return e
}

// Current returns the published generation.
func (e *Engine) Current() *index.Generation {
	return e.current.Load()
}

// Tokenizer is the tokenizer used to build the index. Queries must use it.
func (e *Engine) Tokenizer() *tokenizer.Tokenizer {
	return e.tok
}

// Store is the record store the engine follows.
func (e *Engine) Store() recordstore.Store {
	return e.store
}

// Open restores the newest snapshot and then syncs. A snapshot that fails
// validation, or claims a cursor the store has never reached, is discarded
// and the index is rebuilt from cursor 0.
func (e *Engine) Open(ctx context.Context) (SyncResult, error) {
	if e.snapshots != nil {
		if err := e.restore(ctx); err != nil {
			return SyncResult{}, err
		}
	}
	return e.Sync(ctx)
}

func (e *Engine) restore(ctx context.Context) error {
	g, name, err := e.snapshots.LoadLatest(ctx)
	switch {
	case errors.Is(err, apperrors.ErrSnapshotNotPresent):
		e.logger.Info("no snapshot found, building index from scratch")
		return nil
	case errors.Is(err, apperrors.ErrIndexCorruption):
		e.logger.Error("snapshot failed validation, discarding and rebuilding",
			"snapshot", name,
			"error", err,
		)
		if derr := e.snapshots.Discard(ctx, name); derr != nil {
			e.logger.Warn("discarding corrupt snapshot failed", "snapshot", name, "error", derr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("loading snapshot: %w", err)
	}

	latest, err := e.store.LatestCursor(ctx)
	if err != nil {
		return fmt.Errorf("reading store cursor: %w", err)
	}
	if g.Cursor() > latest {
		e.logger.Warn("snapshot is ahead of the record store, rebuilding",
			"snapshot", name,
			"snapshot_cursor", g.Cursor(),
			"store_cursor", latest,
		)
		if derr := e.snapshots.Discard(ctx, name); derr != nil {
			e.logger.Warn("discarding stale snapshot failed", "snapshot", name, "error", derr)
		}
		return nil
	}

	e.current.Store(g)
	e.durable.Store(g.Cursor())
	e.observe(g)
	e.logger.Info("snapshot restored",
		"snapshot", name,
		"cursor", g.Cursor(),
		"docs", g.DocCount(),
		"terms", g.TermCount(),
	)
	return nil
}

// Sync applies every change after the current cursor. Concurrent callers
// share one run, which runs under the engine's SyncTimeout rather than the
// context of whichever caller started it; a caller whose ctx ends stops
// waiting without failing the run for the others. On error, generations
// published by earlier batches of the run stay published; the failed batch
// is discarded and its changes are retried by the next Sync.
func (e *Engine) Sync(ctx context.Context) (SyncResult, error) {
	if err := ctx.Err(); err != nil {
		return SyncResult{}, fmt.Errorf("sync not started: %w", err)
	}
	ch := e.group.DoChan("sync", func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SyncTimeout)
		defer cancel()
		e.syncMu.Lock()
		defer e.syncMu.Unlock()
		return e.runSync(runCtx)
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(SyncResult)
		return res, r.Err
	case <-ctx.Done():
		return SyncResult{}, fmt.Errorf("waiting for sync: %w", ctx.Err())
	}
}

// Rebuild re-applies the whole change feed into a fresh generation built off
// to the side. Readers keep the current generation until the rebuild has
// caught up with the store; a failed rebuild publishes nothing.
func (e *Engine) Rebuild(ctx context.Context) (SyncResult, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	e.logger.Info("rebuilding index from cursor 0", "current_cursor", e.current.Load().Cursor())

	start := time.Now()
	var res SyncResult
	built, err := e.syncLoop(ctx, index.Empty(), &res, false)
	if err == nil {
		e.current.Store(built)
		e.observe(built)
		// Snapshots on disk describe the replaced generation.
		e.durable.Store(0)
		err = e.persist(ctx, &res)
	}
	res.Duration = time.Since(start)
	e.record(res, err)
	if err == nil && res.Applied > 0 {
		e.notify(ctx, res)
	}
	return res, err
}

func (e *Engine) runSync(ctx context.Context) (SyncResult, error) {
	start := time.Now()
	base := e.current.Load()
	res := SyncResult{StartCursor: base.Cursor(), Cursor: base.Cursor()}

	_, err := e.syncLoop(ctx, base, &res, true)
	if err == nil {
		err = e.persist(ctx, &res)
	}
	res.Duration = time.Since(start)
	e.record(res, err)
	if res.Applied > 0 {
		e.notify(ctx, res)
	}
	return res, err
}

// syncLoop folds batches of changes into successors of base and returns the
// last one. With publish set every successor is published as it is built.
func (e *Engine) syncLoop(ctx context.Context, base *index.Generation, res *SyncResult, publish bool) (*index.Generation, error) {
	for {
		if err := ctx.Err(); err != nil {
			return base, fmt.Errorf("sync interrupted at cursor %d: %w", base.Cursor(), err)
		}
		changes, err := e.store.ChangesSince(ctx, base.Cursor(), e.cfg.BatchSize)
		if err != nil {
			return base, fmt.Errorf("reading changes after cursor %d: %w", base.Cursor(), err)
		}
		if len(changes) == 0 {
			return base, nil
		}
		next, upserted, deleted, err := e.applyBatch(ctx, base, changes)
		if err != nil {
			return base, fmt.Errorf("applying changes %d..%d: %w",
				changes[0].Cursor, changes[len(changes)-1].Cursor, err)
		}
		if publish {
			e.current.Store(next)
			e.observe(next)
		}
		if e.metrics != nil {
			e.metrics.ChangesAppliedTotal.Add(float64(len(changes)))
		}

		base = next
		res.Cursor = next.Cursor()
		res.Applied += len(changes)
		res.Upserted += upserted
		res.Deleted += deleted
		res.Batches++
		e.logger.Debug("batch applied",
			"cursor", next.Cursor(),
			"changes", len(changes),
			"docs", next.DocCount(),
		)
		if len(changes) < e.cfg.BatchSize {
			return base, nil
		}
	}
}

// applyBatch builds the successor of base. Only the last change per ID
// matters; upserts are re-read from the store and IDs the store no longer
// has are removed.
func (e *Engine) applyBatch(ctx context.Context, base *index.Generation, changes []recordstore.Change) (*index.Generation, int, int, error) {
	last := make(map[string]int, len(changes))
	for i, c := range changes {
		last[c.ID] = i
	}
	var order, fetch []string
	for i, c := range changes {
		if last[c.ID] != i {
			continue
		}
		order = append(order, c.ID)
		if c.Kind == recordstore.ChangeUpserted {
			fetch = append(fetch, c.ID)
		}
	}

	recs := map[string]*catalog.PackageRecord{}
	if len(fetch) > 0 {
		got, err := e.store.GetMany(ctx, fetch)
		if err != nil {
			return nil, 0, 0, err
		}
		recs = got
	}

	b := index.NewBuilder(base)
	var upserted, deleted int
	for _, id := range order {
		if rec, ok := recs[id]; ok && rec != nil {
			b.Put(id, e.tok.TokenizeRecord(rec))
			upserted++
			continue
		}
		b.Remove(id)
		deleted++
	}
	b.SetCursor(changes[len(changes)-1].Cursor)
	return b.Build(), upserted, deleted, nil
}

// persist writes a snapshot when the published cursor is ahead of the
// durable one.
func (e *Engine) persist(ctx context.Context, res *SyncResult) error {
	if e.snapshots == nil {
		return nil
	}
	g := e.current.Load()
	if g.Cursor() <= e.durable.Load() {
		return nil
	}
	err := resilience.WithTimeout(ctx, e.cfg.SnapshotTimeout, "snapshot save", func(ctx context.Context) error {
		_, err := e.snapshots.Save(ctx, g)
		return err
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.SnapshotWritesTotal.WithLabelValues("failed").Inc()
		}
		return fmt.Errorf("persisting snapshot at cursor %d: %w", g.Cursor(), err)
	}
	if e.metrics != nil {
		e.metrics.SnapshotWritesTotal.WithLabelValues("ok").Inc()
	}
	e.durable.Store(g.Cursor())
	res.Persisted = true
	return nil
}

func (e *Engine) record(res SyncResult, err error) {
	e.statsMu.Lock()
	e.lastSyncAt = time.Now().UTC()
	e.lastSyncErr = err
	e.statsMu.Unlock()

	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		e.metrics.SyncRunsTotal.WithLabelValues(status).Inc()
		e.metrics.SyncDuration.Observe(res.Duration.Seconds())
	}
	if err != nil {
		e.logger.Error("index sync failed",
			"cursor", res.Cursor,
			"applied", res.Applied,
			"error", err,
		)
		return
	}
	if res.Applied > 0 {
		e.logger.Info("index synced",
			"from", res.StartCursor,
			"to", res.Cursor,
			"applied", res.Applied,
			"upserted", res.Upserted,
			"deleted", res.Deleted,
			"persisted", res.Persisted,
			"duration", res.Duration,
		)
	}
}

func (e *Engine) observe(g *index.Generation) {
	if e.metrics == nil {
		return
	}
	e.metrics.IndexedRecords.Set(float64(g.DocCount()))
	e.metrics.IndexCursor.Set(float64(g.Cursor()))
}

func (e *Engine) notify(ctx context.Context, res SyncResult) {
	if e.notifier == nil {
		return
	}
	ev := SyncEvent{
		Cursor:  res.Cursor,
		Applied: res.Applied,
		Docs:    e.current.Load().DocCount(),
		At:      time.Now().UTC(),
	}
	if err := e.notifier.Publish(ctx, kafka.Event{Key: "index", Value: ev}); err != nil {
		e.logger.Warn("publishing sync event failed", "cursor", res.Cursor, "error", err)
	}
}

// StartSyncLoop syncs every SyncInterval until ctx is cancelled. A failed
// tick is retried with backoff, then left to the next tick.
func (e *Engine) StartSyncLoop(ctx context.Context) {
	interval := e.cfg.SyncInterval
	if interval <= 0 {
		interval = config.Default().Indexer.SyncInterval
	}
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  e.cfg.RetryAttempts,
		InitialDelay: e.cfg.RetryInitialDelay,
		MaxDelay:     e.cfg.RetryMaxDelay,
		Permanent: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("sync loop stopping")
				return
			case <-ticker.C:
				err := resilience.Retry(ctx, "index-sync", retryCfg, func() error {
					_, err := e.Sync(ctx)
					return err
				})
				if err != nil && ctx.Err() == nil {
					e.logger.Error("sync tick failed, will retry next tick", "error", err)
				}
			}
		}
	}()
}

// Stats reports the published generation and the last sync outcome.
func (e *Engine) Stats() Stats {
	g := e.current.Load()
	s := Stats{
		Cursor:        g.Cursor(),
		DurableCursor: e.durable.Load(),
		Docs:          g.DocCount(),
		Terms:         g.TermCount(),
		Postings:      g.PostingCount(),
		BuiltAt:       g.BuiltAt(),
	}
	e.statsMu.Lock()
	s.LastSyncAt = e.lastSyncAt
	if e.lastSyncErr != nil {
		s.LastSyncError = e.lastSyncErr.Error()
	}
	e.statsMu.Unlock()
	return s
}

// Close writes a final snapshot if the published generation is not yet
// durable.
func (e *Engine) Close(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	var res SyncResult
	if err := e.persist(ctx, &res); err != nil {
		return err
	}
	if res.Persisted {
		e.logger.Info("final snapshot written", "cursor", e.durable.Load())
	}
	return nil
}
