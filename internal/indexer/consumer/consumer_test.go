package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/recordstore"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

type brokenStore struct {
	recordstore.Store
}

func (brokenStore) Upsert(context.Context, *catalog.PackageRecord) error {
	return apperrors.Storage("upsert", errors.New("connection refused"))
}

func TestHandlePackageEventUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemoryStore()
	h := HandlePackageEvent(store, nil)

	up := catalog.PackageEvent{Op: catalog.OpUpsert, Record: &catalog.PackageRecord{ID: "serde", Description: "serialization"}}
	require.NoError(t, h(ctx, []byte("serde"), encode(t, up)))
	rec, err := store.Get(ctx, "serde")
	require.NoError(t, err)
	require.NotNil(t, rec)

	del := catalog.PackageEvent{Op: catalog.OpDelete, ID: "serde"}
	require.NoError(t, h(ctx, []byte("serde"), encode(t, del)))
	rec, err = store.Get(ctx, "serde")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHandlePackageEventDropsBadInput(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemoryStore()
	h := HandlePackageEvent(store, nil)

	assert.NoError(t, h(ctx, nil, []byte("{not json")))
	assert.NoError(t, h(ctx, nil, encode(t, catalog.PackageEvent{Op: "merge", ID: "x"})))
	assert.NoError(t, h(ctx, nil, encode(t, catalog.PackageEvent{
		Op: catalog.OpUpsert, Record: &catalog.PackageRecord{ID: "bad id"},
	})))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandlePackageEventReturnsStoreFailure(t *testing.T) {
	h := HandlePackageEvent(brokenStore{Store: recordstore.NewMemoryStore()}, nil)
	err := h(context.Background(), nil, encode(t, catalog.PackageEvent{
		Op: catalog.OpUpsert, Record: &catalog.PackageRecord{ID: "serde"},
	}))
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}

func TestHandleSyncEventTriggersSync(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, &catalog.PackageRecord{ID: "serde"}))
	engine := indexer.New(indexer.Options{Store: store, Config: config.Default().Indexer})
	h := HandleSyncEvent(engine)

	require.NoError(t, h(ctx, nil, encode(t, indexer.SyncEvent{Cursor: 0})))
	assert.Zero(t, engine.Current().Cursor())

	require.NoError(t, h(ctx, nil, encode(t, indexer.SyncEvent{Cursor: 1})))
	assert.Equal(t, uint64(1), engine.Current().Cursor())
}

type stubRunner struct{ started bool }

func (s *stubRunner) Start(context.Context) error {
	s.started = true
	return nil
}

func TestPackageConsumerStart(t *testing.T) {
	r := &stubRunner{}
	require.NoError(t, New(r).Start(context.Background()))
	assert.True(t, r.started)
}
