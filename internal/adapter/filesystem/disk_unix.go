//go:build !windows

package filesystem

import (
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// GetDiskUsage returns usage of the filesystem holding the cache root.
// The parent directory is used while the root itself is missing.
func (m *Manager) GetDiskUsage() (*port.DiskUsage, error) {
	dir := m.rootDir
	if !m.RootExists() {
		dir = filepath.Dir(dir)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return nil, fmt.Errorf("failed to get disk stats: %w", err)
	}

	usage := &port.DiskUsage{
		Total: stat.Blocks * uint64(stat.Bsize),
		Free:  stat.Bavail * uint64(stat.Bsize),
	}
	if usage.Total > usage.Free {
		usage.Used = usage.Total - usage.Free
	}
	if usage.Total > 0 {
		usage.UsedPct = float64(usage.Used) / float64(usage.Total) * 100
	}
	return usage, nil
}
