// Package handler exposes search, index control and record lookup over
// HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/metrics"
	"github.com/gorilla/schema"
)

type SearchExecutor interface {
	Plan(query string, offset, limit int) *parser.QueryPlan
	Execute(ctx context.Context, plan *parser.QueryPlan) (*executor.SearchResult, error)
}

// IndexController is the index writer as seen from HTTP. indexer.Engine
// implements it.
type IndexController interface {
	Sync(ctx context.Context) (indexer.SyncResult, error)
	Rebuild(ctx context.Context) (indexer.SyncResult, error)
	Stats() indexer.Stats
}

type RecordReader interface {
	Get(ctx context.Context, id string) (*catalog.PackageRecord, error)
}

// SearchRequest is decoded from the query string of GET /api/v1/search.
type SearchRequest struct {
	Query  string `schema:"q"`
	Offset int    `schema:"offset"`
	Limit  int    `schema:"limit"`
}

type Handler struct {
	executor SearchExecutor
	index    IndexController
	records  RecordReader
	cache    *cache.QueryCache
	metrics  *metrics.Metrics
	decoder  *schema.Decoder
	logger   *slog.Logger
}

// New builds a Handler. queryCache and m may be nil.
func New(exec SearchExecutor, idx IndexController, records RecordReader, queryCache *cache.QueryCache, m *metrics.Metrics) *Handler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &Handler{
		executor: exec,
		index:    idx,
		records:  records,
		cache:    queryCache,
		metrics:  m,
		decoder:  decoder,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/index/sync", h.Sync)
	mux.HandleFunc("GET /api/v1/index/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/packages/{id}", h.GetPackage)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req SearchRequest
	if err := h.decoder.Decode(&req, r.URL.Query()); err != nil {
		log.Warn("invalid search parameters", "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid query parameters")
		return
	}

	plan := h.executor.Plan(req.Query, req.Offset, req.Limit)
	cacheStatus := "disabled"
	var (
		result *executor.SearchResult
		err    error
	)
	if h.cache != nil && !plan.Empty() {
		key := cache.Key(plan, h.index.Stats().Cursor)
		var hit bool
		result, hit, err = h.cache.GetOrCompute(ctx, key, func() (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, plan)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.executor.Execute(ctx, plan)
	}
	if err != nil {
		log.Error("search execution failed", "query", req.Query, "error", err)
		h.writeSearchError(w, err)
		return
	}
	if result.Query != plan.Raw {
		// Cached pages are shared by queries that parse the same.
		cp := *result
		cp.Query = plan.Raw
		result = &cp
	}

	elapsed := time.Since(start)
	if h.metrics != nil {
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	}
	log.Info("search completed",
		"query", req.Query,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cursor", result.Cursor,
		"cache", cacheStatus,
		"latency_ms", elapsed.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

// Sync runs one synchronization tick, or a full rebuild with ?rebuild=true.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rebuild := r.URL.Query().Get("rebuild") == "true"

	var (
		res indexer.SyncResult
		err error
	)
	if rebuild {
		res, err = h.index.Rebuild(ctx)
	} else {
		res, err = h.index.Sync(ctx)
	}
	if err != nil {
		logger.FromContext(ctx).Error("index sync failed", "rebuild", rebuild, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "index sync failed")
		return
	}
	if rebuild && h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("cache invalidation after rebuild failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"index": h.index.Stats()}
	if h.cache != nil {
		hits, misses := h.cache.Stats()
		body["cache"] = map[string]int64{"hits": hits, "misses": misses}
	}
	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	rec, err := h.records.Get(ctx, id)
	if err != nil {
		logger.FromContext(ctx).Error("record lookup failed", "id", id, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "record lookup failed")
		return
	}
	if rec == nil {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("package %q not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// writeSearchError keeps store outages distinct from an empty result.
func (h *Handler) writeSearchError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		status = http.StatusServiceUnavailable
	}
	h.writeError(w, status, apperrors.ErrSearchUnavailable.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
