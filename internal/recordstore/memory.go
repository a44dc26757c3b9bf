package recordstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
)

// MemoryStore keeps records in a map guarded by a RWMutex. Records are
// copied on the way in and out so callers can never observe a partial write.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*catalog.PackageRecord
	changes []Change
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*catalog.PackageRecord),
		now:     time.Now,
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, rec *catalog.PackageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp, err := prepare(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[cp.ID]; ok && catalog.ContentEqual(existing, cp) {
		return nil
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now().UTC()
	}
	s.records[cp.ID] = cp
	s.appendLocked(cp.ID, ChangeUpserted)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	s.appendLocked(id, ChangeDeleted)
	return true, nil
}

func (s *MemoryStore) appendLocked(id string, kind ChangeKind) {
	s.changes = append(s.changes, Change{
		ID:     id,
		Kind:   kind,
		Cursor: uint64(len(s.changes)) + 1,
	})
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*catalog.PackageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone(), nil
}

func (s *MemoryStore) GetMany(ctx context.Context, ids []string) (map[string]*catalog.PackageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]*catalog.PackageRecord, len(ids))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out[id] = rec.Clone()
		}
	}
	return out, nil
}

func (s *MemoryStore) ChangesSince(ctx context.Context, cursor uint64, limit int) ([]Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.changes), func(i int) bool {
		return s.changes[i].Cursor > cursor
	})
	end := min(start+limit, len(s.changes))
	out := make([]Change, end-start)
	copy(out, s.changes[start:end])
	return out, nil
}

func (s *MemoryStore) LatestCursor(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.changes)), nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
