package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/recordstore"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRecords struct {
	recordstore.Store
	fail  atomic.Bool
	stall atomic.Bool
}

func (f *failingRecords) GetMany(ctx context.Context, ids []string) (map[string]*catalog.PackageRecord, error) {
	if f.fail.Load() {
		return nil, apperrors.Storage("get many", errors.New("connection refused"))
	}
	if f.stall.Load() {
		<-ctx.Done()
		return nil, apperrors.Storage("get many", ctx.Err())
	}
	return f.Store.GetMany(ctx, ids)
}

type fixture struct {
	store  *failingRecords
	engine *indexer.Engine
	exec   *Executor
}

func newFixture(t *testing.T, recs ...*catalog.PackageRecord) *fixture {
	t.Helper()
	store := &failingRecords{Store: recordstore.NewMemoryStore()}
	for _, r := range recs {
		require.NoError(t, store.Upsert(context.Background(), r))
	}
	engine := indexer.New(indexer.Options{Store: store, Config: config.Default().Indexer})
	_, err := engine.Sync(context.Background())
	require.NoError(t, err)

	cfg := config.Default()
	exec := New(Options{
		Index:   engine,
		Records: store,
		Ranker:  ranker.New(cfg.Ranking),
		Schema:  tokenizer.NewSchema(cfg.Tokenizer.FieldWeights),
		Config:  cfg.Search,
		Metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
	})
	return &fixture{store: store, engine: engine, exec: exec}
}

func ids(res *SearchResult) []string {
	out := make([]string, len(res.Results))
	for i, h := range res.Results {
		out[i] = h.ID
	}
	return out
}

func TestSearchProcMacroScenario(t *testing.T) {
	f := newFixture(t,
		&catalog.PackageRecord{ID: "proc-macro2", Keywords: []string{"proc-macro", "macro2"}, DownloadsTotal: 500_000_000},
		&catalog.PackageRecord{ID: "tiny-proc", Keywords: []string{"proc-macro"}, DownloadsTotal: 1_000},
	)
	res, err := f.exec.Search(context.Background(), "proc-macro", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"proc-macro2", "tiny-proc"}, ids(res))
	assert.Equal(t, 2, res.TotalHits)
	assert.Equal(t, f.engine.Current().Cursor(), res.Cursor)
	assert.Equal(t, uint64(500_000_000), res.Results[0].DownloadsTotal)
	assert.Greater(t, res.Results[0].Score, res.Results[1].Score)
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t, &catalog.PackageRecord{ID: "serde"})
	for _, q := range []string{"", "   ", "the", "NOT serde"} {
		res, err := f.exec.Search(context.Background(), q, 0, 10)
		require.NoError(t, err, q)
		assert.Empty(t, res.Results, q)
		assert.Equal(t, 0, res.TotalHits, q)
	}
}

func TestSearchUnknownTermContributesNothing(t *testing.T) {
	f := newFixture(t, &catalog.PackageRecord{ID: "serde", Description: "serialization"})
	res, err := f.exec.Search(context.Background(), "serde nonexistentterm", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"serde"}, ids(res))
}

func TestSearchExactNameRanksFirst(t *testing.T) {
	f := newFixture(t,
		&catalog.PackageRecord{ID: "serde", Description: "serialization framework", DownloadsTotal: 1000},
		&catalog.PackageRecord{ID: "serde-json", Description: "serde json support", DownloadsTotal: 1000},
		&catalog.PackageRecord{ID: "serde-yaml", Description: "serde yaml support", DownloadsTotal: 1000},
	)
	res, err := f.exec.Search(context.Background(), "Serde", 0, 10)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, "serde", res.Results[0].ID)
}

func TestSearchNamePrefixBreaksTie(t *testing.T) {
	f := newFixture(t,
		&catalog.PackageRecord{ID: "my-serde", DownloadsTotal: 1000},
		&catalog.PackageRecord{ID: "serde-json", DownloadsTotal: 1000},
	)
	res, err := f.exec.Search(context.Background(), "serde", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"serde-json", "my-serde"}, ids(res))
	assert.Equal(t, res.Results[0].Lexical, res.Results[1].Lexical)
	assert.Greater(t, res.Results[0].Score, res.Results[1].Score)
}

func TestSearchExclusion(t *testing.T) {
	f := newFixture(t,
		&catalog.PackageRecord{ID: "reqwest", Description: "http client", Keywords: []string{"async"}},
		&catalog.PackageRecord{ID: "ureq", Description: "blocking http client"},
	)
	res, err := f.exec.Search(context.Background(), "http -blocking", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"reqwest"}, ids(res))
}

func TestSearchPagination(t *testing.T) {
	var recs []*catalog.PackageRecord
	for i := 0; i < 25; i++ {
		recs = append(recs, &catalog.PackageRecord{
			ID:             fmt.Sprintf("async-%02d", i),
			Description:    "async helpers",
			DownloadsTotal: uint64(i * 100),
		})
	}
	f := newFixture(t, recs...)
	ctx := context.Background()

	all, err := f.exec.Search(ctx, "async", 0, 100)
	require.NoError(t, err)
	require.Len(t, all.Results, 25)
	assert.Equal(t, "async-24", all.Results[0].ID)

	page, err := f.exec.Search(ctx, "async", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 25, page.TotalHits)
	assert.Equal(t, ids(all)[10:15], ids(page))

	past, err := f.exec.Search(ctx, "async", 40, 5)
	require.NoError(t, err)
	assert.Empty(t, past.Results)
	assert.Equal(t, 25, past.TotalHits)
}

func TestWindowDefaultsAndCaps(t *testing.T) {
	f := newFixture(t)
	off, lim := f.exec.window(-3, 0)
	assert.Equal(t, 0, off)
	assert.Equal(t, 20, lim)
	_, lim = f.exec.window(0, 10_000)
	assert.Equal(t, 100, lim)
}

func TestSearchDeterministic(t *testing.T) {
	var recs []*catalog.PackageRecord
	for i := 0; i < 30; i++ {
		recs = append(recs, &catalog.PackageRecord{ID: fmt.Sprintf("log-%02d", i), Description: "log facade", DownloadsTotal: 7})
	}
	f := newFixture(t, recs...)
	first, err := f.exec.Search(context.Background(), "log facade", 0, 30)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.exec.Search(context.Background(), "log facade", 0, 30)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "log-00", first.Results[0].ID)
}

func TestSearchStoreFailureIsUnavailable(t *testing.T) {
	f := newFixture(t, &catalog.PackageRecord{ID: "serde"})
	f.store.fail.Store(true)
	res, err := f.exec.Search(context.Background(), "serde", 0, 10)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrSearchUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
}

func TestSearchDropsRecordsMissingFromStore(t *testing.T) {
	f := newFixture(t,
		&catalog.PackageRecord{ID: "rand", Description: "random numbers"},
		&catalog.PackageRecord{ID: "fastrand", Description: "fast random numbers"},
	)
	// The index still holds rand until the next sync.
	_, err := f.store.Delete(context.Background(), "rand")
	require.NoError(t, err)

	res, err := f.exec.Search(context.Background(), "random", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"fastrand"}, ids(res))

	_, err = f.engine.Sync(context.Background())
	require.NoError(t, err)
	res, err = f.exec.Search(context.Background(), "rand", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestSearchTimeout(t *testing.T) {
	f := newFixture(t, &catalog.PackageRecord{ID: "serde"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err := f.exec.Search(ctx, "serde", 0, 10)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestSearchRecordFetchBoundedByQueryTimeout(t *testing.T) {
	f := newFixture(t, &catalog.PackageRecord{ID: "serde"})
	cfg := config.Default()
	cfg.Search.QueryTimeout = 20 * time.Millisecond
	exec := New(Options{
		Index:   f.engine,
		Records: f.store,
		Schema:  tokenizer.NewSchema(cfg.Tokenizer.FieldWeights),
		Config:  cfg.Search,
	})
	f.store.stall.Store(true)

	start := time.Now()
	res, err := exec.Search(context.Background(), "serde", 0, 10)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}
