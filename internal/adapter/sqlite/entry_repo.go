package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// Get retrieves the record of a resource path
func (s *Store) Get(ctx context.Context, path string) (*port.EntryRecord, error) {
	query := `
		SELECT path, variant, total_length, retries, has_error, last_used, updated_at
		FROM entries
		WHERE path = ?
	`

	rec := &port.EntryRecord{}
	var lastUsed, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, path).Scan(
		&rec.Path, &rec.Variant, &rec.TotalLength, &rec.Retries, &rec.HasError,
		&lastUsed, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.LastUsed = fromMillis(lastUsed)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// Save inserts or replaces the record of a resource path
func (s *Store) Save(ctx context.Context, rec *port.EntryRecord) error {
	query := `
		INSERT INTO entries (path, variant, total_length, retries, has_error, last_used, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			variant = excluded.variant,
			total_length = excluded.total_length,
			retries = excluded.retries,
			has_error = excluded.has_error,
			last_used = excluded.last_used,
			updated_at = excluded.updated_at
	`

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.Path, rec.Variant, rec.TotalLength, rec.Retries, rec.HasError,
		toMillis(rec.LastUsed), toMillis(rec.UpdatedAt))
	return err
}

// Delete removes the record of a resource path
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE path = ?", path)
	return err
}

// DeleteAll removes every record
func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM entries")
	return err
}

// Count returns the number of records
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&count)
	return count, err
}

// DeleteStale removes records not updated since the given time and returns the number removed
func (s *Store) DeleteStale(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE updated_at < ?", toMillis(olderThan))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
