package port

import (
	"context"
	"time"
)

// EntryRecord is the persisted part of a cache entry that cannot be
// recovered from the files on disk
type EntryRecord struct {
	Path        string
	Variant     string
	TotalLength int64
	Retries     int
	HasError    bool
	LastUsed    time.Time
	UpdatedAt   time.Time
}

// MetadataStore persists entry records across restarts
type MetadataStore interface {
	// Get returns the record for path or domain.ErrNotFound
	Get(ctx context.Context, path string) (*EntryRecord, error)

	// Save inserts or replaces a record
	Save(ctx context.Context, rec *EntryRecord) error

	// Delete removes a record. Missing records are not an error.
	Delete(ctx context.Context, path string) error

	// DeleteAll removes every record
	DeleteAll(ctx context.Context) error

	// Count returns the number of records
	Count(ctx context.Context) (int, error)

	// Close releases the store
	Close() error
}
