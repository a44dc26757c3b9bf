// Package executor runs a parsed query against the current index
// generation, re-ranks the candidates with data from the record store and
// cuts the requested page.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/resilience"
)

const maxOffset = math.MaxInt32

// IndexSource hands out the generation to search. indexer.Engine
// implements it.
type IndexSource interface {
	Current() *index.Generation
	Tokenizer() *tokenizer.Tokenizer
}

// RecordSource is the read side of the record store used for re-ranking.
type RecordSource interface {
	GetMany(ctx context.Context, ids []string) (map[string]*catalog.PackageRecord, error)
}

// Hit is one result row: the score breakdown and a summary of the record.
type Hit struct {
	ID             string   `json:"id"`
	Score          float64  `json:"score"`
	Lexical        float64  `json:"lexical_score"`
	Popularity     float64  `json:"popularity"`
	Description    string   `json:"description"`
	Keywords       []string `json:"keywords"`
	LatestVersion  string   `json:"latest_version,omitempty"`
	DownloadsTotal uint64   `json:"downloads_total"`
}

// SearchResult is one page of ranked hits. Cursor is the index generation
// the query ran against.
type SearchResult struct {
	Query     string `json:"query"`
	TotalHits int    `json:"total_hits"`
	Offset    int    `json:"offset"`
	Limit     int    `json:"limit"`
	Cursor    uint64 `json:"cursor"`
	Results   []Hit  `json:"results"`
}

type Options struct {
	Index   IndexSource
	Records RecordSource
	Ranker  *ranker.Ranker
	Schema  tokenizer.Schema
	Config  config.SearchConfig
	// Breaker guards record fetches. Nil builds one with default settings.
	Breaker *resilience.CircuitBreaker
	Metrics *metrics.Metrics
}

// Executor is safe for concurrent use. It never writes to the index or the
// record store.
type Executor struct {
	index   IndexSource
	records RecordSource
	ranker  *ranker.Ranker
	schema  tokenizer.Schema
	cfg     config.SearchConfig
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
}

func New(opts Options) *Executor {
	if opts.Ranker == nil {
		opts.Ranker = ranker.Default()
	}
	if opts.Breaker == nil {
		opts.Breaker = NewRecordBreaker(opts.Metrics)
	}
	return &Executor{
		index:   opts.Index,
		records: opts.Records,
		ranker:  opts.Ranker,
		schema:  opts.Schema,
		cfg:     opts.Config,
		breaker: opts.Breaker,
		metrics: opts.Metrics,
	}
}

// NewRecordBreaker builds the breaker that guards record store reads on the
// query path. Cancelled queries do not count as store failures.
func NewRecordBreaker(m *metrics.Metrics) *resilience.CircuitBreaker {
	cfg := resilience.CircuitBreakerConfig{
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}
	if m != nil {
		cfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return resilience.NewCircuitBreaker("record-store", cfg)
}

// Plan parses query with the index tokenizer and fixes the page window.
func (e *Executor) Plan(query string, offset, limit int) *parser.QueryPlan {
	plan := parser.Parse(query, e.index.Tokenizer())
	plan.Offset, plan.Limit = e.window(offset, limit)
	return plan
}

// Search is Plan followed by Execute.
func (e *Executor) Search(ctx context.Context, query string, offset, limit int) (*SearchResult, error) {
	return e.Execute(ctx, e.Plan(query, offset, limit))
}

func (e *Executor) window(offset, limit int) (int, int) {
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if e.cfg.MaxResults > 0 && limit > e.cfg.MaxResults {
		limit = e.cfg.MaxResults
	}
	if limit <= 0 {
		limit = 20
	}
	return min(max(offset, 0), maxOffset), limit
}

// Execute ranks every record matching plan and returns the requested page.
// An empty plan gives an empty result. A failing record store gives an
// error wrapping ErrSearchUnavailable, never a silently empty page.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan) (*SearchResult, error) {
	log := logger.FromContext(ctx).With("component", "query-executor")
	gen := e.index.Current()
	offset, limit := e.window(plan.Offset, plan.Limit)
	result := &SearchResult{
		Query:   plan.Raw,
		Offset:  offset,
		Limit:   limit,
		Cursor:  gen.Cursor(),
		Results: []Hit{},
	}
	if plan.Empty() {
		e.count("zero_result", 0)
		return result, nil
	}

	candidates := ranker.Lexical(gen, e.schema, plan.Terms, plan.Excludes)
	if len(candidates) == 0 {
		e.count("zero_result", 0)
		return result, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	records, err := e.fetch(ctx, ids)
	if err != nil {
		e.count("error", 0)
		log.Error("record fetch failed", "query", plan.Raw, "candidates", len(ids), "error", err)
		return nil, err
	}

	docs := make([]ranker.ScoredDoc, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := records[c.ID]
		if !ok {
			// Deleted after the generation was built.
			continue
		}
		docs = append(docs, e.ranker.Score(c.Lexical, rec, plan.Normalized))
	}
	result.TotalHits = len(docs)

	top := ranker.TopK(docs, offset+limit)
	if offset < len(top) {
		for _, d := range top[offset:] {
			result.Results = append(result.Results, toHit(d, records[d.ID]))
		}
	}

	if result.TotalHits == 0 {
		e.count("zero_result", 0)
	} else {
		e.count("hit", result.TotalHits)
	}
	log.Debug("query executed",
		"query", plan.Raw,
		"terms", plan.Terms,
		"cursor", result.Cursor,
		"candidates", len(candidates),
		"hits", result.TotalHits,
		"returned", len(result.Results),
	)
	return result, nil
}

func (e *Executor) fetch(ctx context.Context, ids []string) (map[string]*catalog.PackageRecord, error) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		return nil, err
	}
	var records map[string]*catalog.PackageRecord
	err := e.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, e.cfg.QueryTimeout, "record fetch", func(ctx context.Context) error {
			var err error
			records, err = e.records.GetMany(ctx, ids)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrTimeout) {
			return nil, fmt.Errorf("fetching %d records: %w", len(ids), err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: fetching %d records: %w", apperrors.ErrTimeout, len(ids), err)
		}
		return nil, fmt.Errorf("%w: fetching %d records: %w", apperrors.ErrSearchUnavailable, len(ids), err)
	}
	return records, nil
}

func (e *Executor) count(resultType string, hits int) {
	if e.metrics == nil {
		return
	}
	e.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	e.metrics.SearchResultsCount.Observe(float64(hits))
}

func toHit(d ranker.ScoredDoc, rec *catalog.PackageRecord) Hit {
	return Hit{
		ID:             d.ID,
		Score:          d.Score,
		Lexical:        d.Lexical,
		Popularity:     d.Popularity,
		Description:    rec.Description,
		Keywords:       rec.Keywords,
		LatestVersion:  rec.LatestVersion,
		DownloadsTotal: rec.DownloadsTotal,
	}
}
