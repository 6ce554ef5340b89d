package port

import (
	"io"
	"time"
)

// FileInfo describes a resource file found under the cache root
type FileInfo struct {
	Path    string // Resource path relative to the root, temp suffix stripped
	Temp    bool   // True for an in-progress download
	Size    int64
	ModTime time.Time
}

// FileSystem defines the interface for filesystem operations.
// All paths are resource paths relative to the cache root.
type FileSystem interface {
	// RootDir returns the cache root directory
	RootDir() string

	// EnsureRoot creates the cache root directory if it is missing
	EnsureRoot() error

	// RootExists reports whether the cache root directory exists
	RootExists() bool

	// CachePath returns the local path of the finished file
	CachePath(path string) string

	// TempPath returns the local path of the in-progress file
	TempPath(path string) string

	// Stat returns size and modification time of the final or temp file
	Stat(path string, temp bool) (int64, time.Time, error)

	// OpenAppend opens the temp file for appending, creating parent directories.
	// When truncate is set any existing content is discarded.
	// Returns the writer and the current file size.
	OpenAppend(path string, truncate bool) (io.WriteCloser, int64, error)

	// Finalize renames the temp file to the final file
	Finalize(path string) error

	// Remove deletes both the temp and the final file
	Remove(path string) error

	// RemoveTemp deletes only the temp file
	RemoveTemp(path string) error

	// OpenRead opens the final or temp file for reading
	OpenRead(path string, temp bool) (io.ReadSeekCloser, error)

	// Scan walks the root recursively and returns every resource file
	Scan() ([]FileInfo, error)

	// CleanEmptyDirs removes empty directories under root
	// Returns the number of directories removed
	CleanEmptyDirs() (int, error)

	// GetDiskUsage returns disk usage statistics
	GetDiskUsage() (*DiskUsage, error)
}
