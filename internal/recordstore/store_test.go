package recordstore

import (
	"context"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, downloads uint64, keywords ...string) *catalog.PackageRecord {
	return &catalog.PackageRecord{
		ID:             id,
		Description:    "package " + id,
		Keywords:       keywords,
		DownloadsTotal: downloads,
	}
}

// runStoreContract checks behaviour every backend must share. The store must
// start empty.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		rec, err := s.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("upsert appends change", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, record("serde", 100, "serialization")))
		changes, err := s.ChangesSince(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, "serde", changes[0].ID)
		assert.Equal(t, ChangeUpserted, changes[0].Kind)
		assert.NotZero(t, changes[0].Cursor)

		got, err := s.Get(ctx, "serde")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, uint64(100), got.DownloadsTotal)
		assert.Equal(t, []string{"serialization"}, got.Keywords)
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("identical upsert is a no-op", func(t *testing.T) {
		before, err := s.LatestCursor(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Upsert(ctx, record("serde", 100, "serialization")))
		after, err := s.LatestCursor(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("changed upsert appends change", func(t *testing.T) {
		before, err := s.LatestCursor(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Upsert(ctx, record("serde", 200, "serialization")))
		after, err := s.LatestCursor(ctx)
		require.NoError(t, err)
		assert.Greater(t, after, before)
	})

	t.Run("invalid record rejected", func(t *testing.T) {
		err := s.Upsert(ctx, &catalog.PackageRecord{ID: "has space"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, record("rand", 5)))
		ok, err := s.Delete(ctx, "rand")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Delete(ctx, "rand")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Get(ctx, "rand")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("feed keeps history in order", func(t *testing.T) {
		changes, err := s.ChangesSince(ctx, 0, 100)
		require.NoError(t, err)
		var ids []string
		var kinds []ChangeKind
		for i, c := range changes {
			ids = append(ids, c.ID)
			kinds = append(kinds, c.Kind)
			if i > 0 {
				assert.Greater(t, c.Cursor, changes[i-1].Cursor)
			}
		}
		assert.Equal(t, []string{"serde", "serde", "rand", "rand"}, ids)
		assert.Equal(t, []ChangeKind{ChangeUpserted, ChangeUpserted, ChangeUpserted, ChangeDeleted}, kinds)
	})

	t.Run("feed pages and restarts", func(t *testing.T) {
		first, err := s.ChangesSince(ctx, 0, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		rest, err := s.ChangesSince(ctx, first[1].Cursor, 100)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Greater(t, rest[0].Cursor, first[1].Cursor)

		again, err := s.ChangesSince(ctx, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, first, again)

		none, err := s.ChangesSince(ctx, rest[1].Cursor, 100)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("get many skips missing", func(t *testing.T) {
		got, err := s.GetMany(ctx, []string{"serde", "rand", "ghost"})
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Contains(t, got, "serde")

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := record("tokio", 1, "async")
	require.NoError(t, s.Upsert(ctx, rec))

	rec.Keywords[0] = "mutated"
	got, err := s.Get(ctx, "tokio")
	require.NoError(t, err)
	assert.Equal(t, []string{"async"}, got.Keywords)

	got.Keywords[0] = "mutated"
	again, err := s.Get(ctx, "tokio")
	require.NoError(t, err)
	assert.Equal(t, []string{"async"}, again.Keywords)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	assert.ErrorIs(t, s.Upsert(ctx, record("a", 1)), context.Canceled)
	_, err := s.ChangesSince(ctx, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
