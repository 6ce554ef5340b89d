package cacher

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// Index is the size bounded, access ordered set of cache entries.
// The list runs from least to most recently used.
type Index struct {
	env      *entryEnv
	meta     port.MetadataStore
	maxFiles int
	maxSize  int64
	logger   *zap.Logger

	// onEvict is called for every entry removed by eviction, without the index lock held
	onEvict func(e *Entry)

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
	size    int64
}

func newIndex(cfg *Config, env *entryEnv, meta port.MetadataStore, logger *zap.Logger) *Index {
	return &Index{
		env:      env,
		meta:     meta,
		maxFiles: cfg.MaxFiles,
		maxSize:  cfg.MaxSizeBytes,
		logger:   logger,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Contains reports whether path is indexed
func (idx *Index) Contains(path string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.entries[path]
	return ok
}

// Get returns the entry for path or nil
func (idx *Index) Get(path string) *Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if el, ok := idx.entries[path]; ok {
		return el.Value.(*Entry)
	}
	return nil
}

// Touch moves the entry to the most recently used end
func (idx *Index) Touch(path string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	el, ok := idx.entries[path]
	if !ok {
		return false
	}
	idx.order.MoveToBack(el)
	el.Value.(*Entry).Touch()
	return true
}

// Put inserts e unless its path is already indexed, evicting first to make
// room for it. Returns false when the path was present.
func (idx *Index) Put(e *Entry) bool {
	idx.mu.Lock()
	if _, ok := idx.entries[e.Path()]; ok {
		idx.mu.Unlock()
		return false
	}
	evicted := idx.putLocked(e)
	idx.mu.Unlock()

	idx.reportEvicted(evicted)
	return true
}

// GetOrCreate returns the entry for path, creating and inserting a new one
// when absent. Existing entries are touched.
func (idx *Index) GetOrCreate(path string) (*Entry, bool) {
	idx.mu.Lock()
	if el, ok := idx.entries[path]; ok {
		idx.order.MoveToBack(el)
		e := el.Value.(*Entry)
		idx.mu.Unlock()
		e.Touch()
		return e, false
	}

	e := newEntry(path, idx.env)
	evicted := idx.putLocked(e)
	idx.mu.Unlock()

	idx.reportEvicted(evicted)
	return e, true
}

func (idx *Index) putLocked(e *Entry) []*Entry {
	known := e.KnownLength()
	evicted := idx.makeSpaceLocked(known, 1)
	idx.entries[e.Path()] = idx.order.PushBack(e)
	idx.size += known
	return evicted
}

// Clear destroys every entry and empties the index.
// The removed entries are returned instead of being reported through onEvict.
func (idx *Index) Clear() []*Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := make([]*Entry, 0, idx.order.Len())
	for el := idx.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if err := e.destroy(); err != nil {
			idx.logger.Debug("failed to delete cached file",
				zap.String("path", e.Path()),
				zap.Error(err))
		}
		removed = append(removed, e)
	}

	idx.order.Init()
	idx.entries = make(map[string]*list.Element)
	idx.size = 0
	return removed
}

// LoadFromDirectory rebuilds entries from the files under the cache root,
// oldest first, then enforces the limits on what was found.
func (idx *Index) LoadFromDirectory() (int, error) {
	files, err := idx.env.fs.Scan()
	if err != nil {
		return 0, err
	}

	byPath := make(map[string]port.FileInfo, len(files))
	for _, fi := range files {
		prev, seen := byPath[fi.Path]
		if !seen {
			byPath[fi.Path] = fi
			continue
		}
		// Final file wins over a leftover temp file
		if !fi.Temp && prev.Temp {
			byPath[fi.Path] = fi
		}
		if err := idx.env.fs.RemoveTemp(fi.Path); err != nil {
			idx.logger.Warn("failed to remove stale temp file",
				zap.String("path", fi.Path),
				zap.Error(err))
		}
	}

	restored := make([]*Entry, 0, len(byPath))
	for _, fi := range byPath {
		restored = append(restored, restoreEntry(fi, idx.lookupRecord(fi.Path), idx.env))
	}
	sort.SliceStable(restored, func(i, j int) bool {
		return restored[i].LastUsed().Before(restored[j].LastUsed())
	})

	idx.mu.Lock()
	loaded := 0
	for _, e := range restored {
		if _, ok := idx.entries[e.Path()]; ok {
			continue
		}
		idx.entries[e.Path()] = idx.order.PushBack(e)
		idx.size += e.KnownLength()
		loaded++
	}
	evicted := idx.makeSpaceLocked(0, 0)
	idx.mu.Unlock()

	idx.reportEvicted(evicted)
	return loaded - len(evicted), nil
}

func (idx *Index) lookupRecord(path string) *port.EntryRecord {
	if idx.meta == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := idx.meta.Get(ctx, path)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			idx.logger.Warn("failed to read entry metadata", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	return rec
}

// Trim evicts until the limits hold and returns the number of evicted entries
func (idx *Index) Trim() int {
	idx.mu.Lock()
	evicted := idx.makeSpaceLocked(0, 0)
	idx.mu.Unlock()

	idx.reportEvicted(evicted)
	return len(evicted)
}

// makeSpaceLocked evicts unused entries, least recently used first, until
// extra more entries and n more bytes fit. The scan stops at the first entry
// in use.
func (idx *Index) makeSpaceLocked(n int64, extra int) []*Entry {
	// Entries change size outside the index lock, so the tracked total is recomputed
	var total int64
	for el := idx.order.Front(); el != nil; el = el.Next() {
		total += el.Value.(*Entry).KnownLength()
	}
	idx.size = total

	count := idx.order.Len()
	var marked []*list.Element
	var sizes []int64
	var removed int64

	for el := idx.order.Front(); el != nil; el = el.Next() {
		if count+extra-len(marked) <= idx.maxFiles && total+n-removed <= idx.maxSize {
			break
		}

		e := el.Value.(*Entry)
		if !e.Unused() {
			idx.logger.Debug("eviction blocked by entry in use",
				zap.String("path", e.Path()),
				zap.Int("files", count-len(marked)),
				zap.Int64("size", total-removed))
			break
		}

		known := e.KnownLength()
		marked = append(marked, el)
		sizes = append(sizes, known)
		removed += known
	}

	evicted := make([]*Entry, 0, len(marked))
	for i, el := range marked {
		e := el.Value.(*Entry)
		if err := e.destroy(); err != nil {
			idx.logger.Warn("failed to delete evicted file",
				zap.String("path", e.Path()),
				zap.Error(err))
		}
		idx.order.Remove(el)
		delete(idx.entries, e.Path())
		idx.size -= sizes[i]
		evicted = append(evicted, e)
	}

	if len(evicted) > 0 {
		idx.logger.Info("evicted cache entries",
			zap.Int("count", len(evicted)),
			zap.Int64("freed_bytes", removed))
	}
	return evicted
}

func (idx *Index) reportEvicted(evicted []*Entry) {
	if idx.onEvict == nil {
		return
	}
	for _, e := range evicted {
		idx.onEvict(e)
	}
}

// Len returns the number of entries
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.order.Len()
}

// Size returns the aggregate known length of all entries
func (idx *Index) Size() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var total int64
	for el := idx.order.Front(); el != nil; el = el.Next() {
		total += el.Value.(*Entry).KnownLength()
	}
	idx.size = total
	return total
}

// Entries returns all entries from least to most recently used
func (idx *Index) Entries() []*Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries := make([]*Entry, 0, idx.order.Len())
	for el := idx.order.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*Entry))
	}
	return entries
}

func (idx *Index) String() string {
	return fmt.Sprintf("Index{files: %d, max_files: %d, max_size: %d}", idx.Len(), idx.maxFiles, idx.maxSize)
}
