package vo

import (
	"github.com/dustin/go-humanize"
)

const (
	KB int64 = 1024
	MB int64 = 1024 * KB
	GB int64 = 1024 * MB
)

// FileSize is a byte count. Negative values stand for an unknown size.
type FileSize int64

// Known reports whether the size is known.
func (fs FileSize) Known() bool {
	return fs >= 0
}

// ExceedsLimit reports whether the size is above limit. A limit of zero or
// less means unlimited.
func (fs FileSize) ExceedsLimit(limit FileSize) bool {
	return limit > 0 && fs > limit
}

// String returns a human-readable string representation.
func (fs FileSize) String() string {
	if !fs.Known() {
		return "unknown"
	}
	return humanize.IBytes(uint64(fs))
}
