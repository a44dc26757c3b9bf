package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/postgres"
	"github.com/lib/pq"
)

// changeLogLock serialises writers so package_changes.seq values become
// visible in commit order. Without it a reader could observe seq N+1 before
// seq N commits and skip N forever.
const changeLogLock = 0x70_6b_67_73

const schema = `
CREATE TABLE IF NOT EXISTS packages (
	id               TEXT PRIMARY KEY,
	description      TEXT NOT NULL DEFAULT '',
	keywords         TEXT[] NOT NULL DEFAULT '{}',
	readme_excerpt   TEXT NOT NULL DEFAULT '',
	downloads_total  BIGINT NOT NULL DEFAULT 0,
	downloads_recent BIGINT NOT NULL DEFAULT 0,
	latest_version   TEXT NOT NULL DEFAULT '',
	dependency_names TEXT[] NOT NULL DEFAULT '{}',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS package_changes (
	seq        BIGSERIAL PRIMARY KEY,
	package_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const selectColumns = `id, description, keywords, readme_excerpt, downloads_total,
	downloads_recent, latest_version, dependency_names, updated_at`

// PostgresStore keeps records in the packages table and the change log in
// package_changes. A record write and its change entry commit together.
type PostgresStore struct {
	db *postgres.Client
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return apperrors.Storage("ensure schema", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec *catalog.PackageRecord) error {
	cp, err := prepare(rec)
	if err != nil {
		return err
	}
	if cp.DownloadsTotal > math.MaxInt64 || cp.DownloadsRecent > math.MaxInt64 {
		return fmt.Errorf("%w: download counts exceed int64", apperrors.ErrInvalidInput)
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, changeLogLock); err != nil {
			return err
		}
		existing, err := scanRecord(tx.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM packages WHERE id = $1 FOR UPDATE`, cp.ID))
		if err != nil {
			return err
		}
		if existing != nil && catalog.ContentEqual(existing, cp) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO packages (`+selectColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				description = EXCLUDED.description,
				keywords = EXCLUDED.keywords,
				readme_excerpt = EXCLUDED.readme_excerpt,
				downloads_total = EXCLUDED.downloads_total,
				downloads_recent = EXCLUDED.downloads_recent,
				latest_version = EXCLUDED.latest_version,
				dependency_names = EXCLUDED.dependency_names,
				updated_at = EXCLUDED.updated_at`,
			cp.ID, cp.Description, pq.Array(cp.Keywords), cp.ReadmeExcerpt,
			int64(cp.DownloadsTotal), int64(cp.DownloadsRecent), cp.LatestVersion,
			pq.Array(cp.DependencyNames), cp.UpdatedAt)
		if err != nil {
			return err
		}
		return appendChange(ctx, tx, cp.ID, ChangeUpserted)
	})
	if err != nil {
		return apperrors.Storage("upsert "+cp.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, changeLogLock); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		deleted = true
		return appendChange(ctx, tx, id, ChangeDeleted)
	})
	if err != nil {
		return false, apperrors.Storage("delete "+id, err)
	}
	return deleted, nil
}

func appendChange(ctx context.Context, tx *sql.Tx, id string, kind ChangeKind) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO package_changes (package_id, kind) VALUES ($1, $2)`, id, string(kind))
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*catalog.PackageRecord, error) {
	rec, err := scanRecord(s.db.DB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM packages WHERE id = $1`, id))
	if err != nil {
		return nil, apperrors.Storage("get "+id, err)
	}
	return rec, nil
}

func (s *PostgresStore) GetMany(ctx context.Context, ids []string) (map[string]*catalog.PackageRecord, error) {
	out := make(map[string]*catalog.PackageRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM packages WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, apperrors.Storage("get many", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Storage("scan record", err)
		}
		out[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterate records", err)
	}
	return out, nil
}

func (s *PostgresStore) ChangesSince(ctx context.Context, cursor uint64, limit int) ([]Change, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT seq, package_id, kind FROM package_changes WHERE seq > $1 ORDER BY seq LIMIT $2`,
		int64(cursor), limit)
	if err != nil {
		return nil, apperrors.Storage("changes since", err)
	}
	defer rows.Close()
	var changes []Change
	for rows.Next() {
		var (
			seq  int64
			c    Change
			kind string
		)
		if err := rows.Scan(&seq, &c.ID, &kind); err != nil {
			return nil, apperrors.Storage("scan change", err)
		}
		c.Cursor = uint64(seq)
		c.Kind = ChangeKind(kind)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterate changes", err)
	}
	return changes, nil
}

func (s *PostgresStore) LatestCursor(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.DB.QueryRowContext(ctx, `SELECT max(seq) FROM package_changes`).Scan(&seq); err != nil {
		return 0, apperrors.Storage("latest cursor", err)
	}
	return uint64(seq.Int64), nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.DB.QueryRowContext(ctx, `SELECT count(*) FROM packages`).Scan(&n); err != nil {
		return 0, apperrors.Storage("count", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord returns nil, nil for sql.ErrNoRows.
func scanRecord(row rowScanner) (*catalog.PackageRecord, error) {
	var (
		rec            catalog.PackageRecord
		keywords, deps pq.StringArray
		total, recent  int64
	)
	err := row.Scan(&rec.ID, &rec.Description, &keywords, &rec.ReadmeExcerpt,
		&total, &recent, &rec.LatestVersion, &deps, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Keywords = []string(keywords)
	rec.DependencyNames = []string(deps)
	if rec.Keywords == nil {
		rec.Keywords = []string{}
	}
	if rec.DependencyNames == nil {
		rec.DependencyNames = []string{}
	}
	rec.DownloadsTotal = uint64(total)
	rec.DownloadsRecent = uint64(recent)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}
