// Package recordstore is the durable source of truth for package records.
// Every mutation is appended to an ordered change log that the index writer
// consumes by cursor.
package recordstore

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
)

// ChangeKind tells whether a record was written or removed.
type ChangeKind string

const (
	ChangeUpserted ChangeKind = "upserted"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is one entry of the change log. Cursor values strictly increase
// along the log; cursor 0 is never assigned.
type Change struct {
	ID     string     `json:"id"`
	Kind   ChangeKind `json:"kind"`
	Cursor uint64     `json:"cursor"`
}

// Store holds package records. Implementations are safe for concurrent use.
type Store interface {
	// Upsert inserts or fully replaces a record. Writing content identical to
	// what is stored appends no change.
	Upsert(ctx context.Context, rec *catalog.PackageRecord) error
	// Delete removes a record. It reports false when the ID was absent.
	Delete(ctx context.Context, id string) (bool, error)
	// Get returns nil, nil when the record does not exist.
	Get(ctx context.Context, id string) (*catalog.PackageRecord, error)
	// GetMany returns the records that exist among ids, keyed by ID.
	GetMany(ctx context.Context, ids []string) (map[string]*catalog.PackageRecord, error)
	// ChangesSince returns up to limit changes with cursor > cursor, in
	// ascending cursor order. Historical entries are kept, so the feed can be
	// replayed from any earlier cursor.
	ChangesSince(ctx context.Context, cursor uint64, limit int) ([]Change, error)
	// LatestCursor is the cursor of the newest change, or 0.
	LatestCursor(ctx context.Context) (uint64, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

func prepare(rec *catalog.PackageRecord) (*catalog.PackageRecord, error) {
	cp := rec.Clone()
	if cp == nil {
		return nil, (&catalog.PackageRecord{}).Validate()
	}
	cp.Normalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return cp, nil
}
