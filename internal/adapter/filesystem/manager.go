package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vertextoedge/media-stream-cache/internal/domain/vo"
	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// Manager handles local filesystem operations below the cache root
type Manager struct {
	rootDir string
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager and the root directory
func NewManager(rootDir string) (*Manager, error) {
	if rootDir == "" {
		return nil, errors.New("cache root dir is required")
	}

	m := &Manager{rootDir: filepath.Clean(rootDir)}
	if err := m.EnsureRoot(); err != nil {
		return nil, err
	}
	return m, nil
}

// RootDir returns the cache root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// EnsureRoot creates the cache root directory if it is missing
func (m *Manager) EnsureRoot() error {
	if err := os.MkdirAll(m.rootDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache root dir: %w", err)
	}
	return nil
}

// RootExists reports whether the cache root directory exists
func (m *Manager) RootExists() bool {
	info, err := os.Stat(m.rootDir)
	return err == nil && info.IsDir()
}

// CachePath returns the local path of the finished file
func (m *Manager) CachePath(path string) string {
	return filepath.Join(m.rootDir, filepath.FromSlash(path))
}

// TempPath returns the local path of the in-progress file
func (m *Manager) TempPath(path string) string {
	return m.CachePath(vo.TempName(path))
}

func (m *Manager) localPath(path string, temp bool) string {
	if temp {
		return m.TempPath(path)
	}
	return m.CachePath(path)
}

// Stat returns size and modification time of the final or temp file
func (m *Manager) Stat(path string, temp bool) (int64, time.Time, error) {
	info, err := os.Stat(m.localPath(path, temp))
	if err != nil {
		return 0, time.Time{}, err
	}
	return info.Size(), info.ModTime(), nil
}

// OpenAppend opens the temp file for appending
func (m *Manager) OpenAppend(path string, truncate bool) (io.WriteCloser, int64, error) {
	tempPath := m.TempPath(path)

	if err := os.MkdirAll(filepath.Dir(tempPath), 0755); err != nil {
		return nil, 0, fmt.Errorf("failed to create parent dir: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(tempPath, flags, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open temp file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat temp file: %w", err)
	}

	return f, info.Size(), nil
}

// Finalize renames the temp file to the final file
func (m *Manager) Finalize(path string) error {
	if err := os.Rename(m.TempPath(path), m.CachePath(path)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Remove deletes both the temp and the final file
func (m *Manager) Remove(path string) error {
	var errs []error
	for _, p := range []string{m.TempPath(path), m.CachePath(path)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete file: %w", errors.Join(errs...))
	}
	return nil
}

// RemoveTemp deletes only the temp file
func (m *Manager) RemoveTemp(path string) error {
	if err := os.Remove(m.TempPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete temp file: %w", err)
	}
	return nil
}

// OpenRead opens the final or temp file for reading
func (m *Manager) OpenRead(path string, temp bool) (io.ReadSeekCloser, error) {
	return os.Open(m.localPath(path, temp))
}

// Scan walks the root recursively and returns every resource file.
// Hidden files and directories and empty temp files are skipped.
func (m *Manager) Scan() ([]port.FileInfo, error) {
	var files []port.FileInfo

	err := filepath.WalkDir(m.rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == m.rootDir {
				return err
			}
			return nil
		}
		hidden := p != m.rootDir && strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(m.rootDir, p)
		if err != nil {
			return nil
		}

		name, temp := vo.StripTempSuffix(filepath.ToSlash(rel))
		if temp && info.Size() == 0 {
			os.Remove(p)
			return nil
		}

		files = append(files, port.FileInfo{
			Path:    name,
			Temp:    temp,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache dir: %w", err)
	}

	return files, nil
}

// CleanEmptyDirs removes empty directories under root, deepest first
func (m *Manager) CleanEmptyDirs() (int, error) {
	var dirs []string
	err := filepath.WalkDir(m.rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != m.rootDir {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk cache dir: %w", err)
	}

	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	removed := 0
	for _, dir := range dirs {
		if os.Remove(dir) == nil { // Will only succeed if empty
			removed++
		}
	}
	return removed, nil
}
