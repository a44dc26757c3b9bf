package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/blob"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
)

const (
	namePrefix = "gen_"
	nameSuffix = ".spdx"
)

// Name returns the snapshot object name for a cursor. Cursors are zero
// padded so lexical order matches numeric order.
func Name(cursor uint64) string {
	return fmt.Sprintf("%s%020d%s", namePrefix, cursor, nameSuffix)
}

// ParseName extracts the cursor from a snapshot name.
func ParseName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
		return 0, false
	}
	c, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix), 10, 64)
	return c, err == nil
}

// Store saves and loads generations through a blob.Store.
type Store struct {
	blobs  blob.Store
	keep   int
	enc    *Encoder
	dec    *Decoder
	logger *slog.Logger
}

// NewStore keeps at most keep snapshots (minimum 1) after each save.
func NewStore(blobs blob.Store, keep, level int) (*Store, error) {
	enc, err := NewEncoder(level)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoder()
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Store{
		blobs:  blobs,
		keep:   max(keep, 1),
		enc:    enc,
		dec:    dec,
		logger: slog.Default().With("component", "snapshot-store"),
	}, nil
}

// Save writes g and prunes older snapshots. The snapshot is visible only
// once fully written.
func (s *Store) Save(ctx context.Context, g *index.Generation) (string, error) {
	data, err := s.enc.Encode(g)
	if err != nil {
		return "", err
	}
	name := Name(g.Cursor())
	if err := s.blobs.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("writing snapshot %s: %w", name, err)
	}
	s.logger.Info("snapshot written",
		"name", name,
		"cursor", g.Cursor(),
		"docs", g.DocCount(),
		"terms", g.TermCount(),
		"bytes", len(data),
	)
	if err := s.prune(ctx); err != nil {
		s.logger.Warn("pruning snapshots failed", "error", err)
	}
	return name, nil
}

// List returns snapshot names, oldest first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	names, err := s.blobs.List(ctx, namePrefix)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	out := names[:0]
	for _, n := range names {
		if _, ok := ParseName(n); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// LoadLatest decodes the newest snapshot. It returns ErrSnapshotNotPresent
// when there is none and an ErrIndexCorruption error, along with the name,
// when the newest one fails validation.
func (s *Store) LoadLatest(ctx context.Context) (*index.Generation, string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, "", err
	}
	if len(names) == 0 {
		return nil, "", apperrors.ErrSnapshotNotPresent
	}
	name := names[len(names)-1]
	data, err := s.blobs.Get(ctx, name)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, "", apperrors.ErrSnapshotNotPresent
		}
		return nil, name, fmt.Errorf("reading snapshot %s: %w", name, err)
	}
	g, h, err := s.dec.Decode(data)
	if err != nil {
		return nil, name, fmt.Errorf("snapshot %s: %w", name, err)
	}
	if want, _ := ParseName(name); want != h.Cursor {
		return nil, name, fmt.Errorf("snapshot %s: %w: header cursor %d", name, apperrors.ErrIndexCorruption, h.Cursor)
	}
	return g, name, nil
}

// Discard removes a snapshot, typically one that failed validation.
func (s *Store) Discard(ctx context.Context, name string) error {
	return s.blobs.Delete(ctx, name)
}

func (s *Store) prune(ctx context.Context) error {
	names, err := s.List(ctx)
	if err != nil {
		return err
	}
	for len(names) > s.keep {
		if err := s.blobs.Delete(ctx, names[0]); err != nil {
			return fmt.Errorf("deleting %s: %w", names[0], err)
		}
		s.logger.Debug("snapshot pruned", "name", names[0])
		names = names[1:]
	}
	return nil
}

func (s *Store) Close() error {
	s.dec.Close()
	return s.enc.Close()
}
