package cacher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vertextoedge/media-stream-cache/internal/adapter/filesystem"
	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// fakeClock hands out strictly increasing times
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// change is one recorded onChange call
type change struct {
	path   string
	status domain.CacheStatus
	notify bool
}

// changeRecorder collects entry change callbacks
type changeRecorder struct {
	mu      sync.Mutex
	changes []change
}

func (r *changeRecorder) record(e *Entry, status domain.CacheStatus, notify bool) {
	r.mu.Lock()
	r.changes = append(r.changes, change{path: e.Path(), status: status, notify: notify})
	r.mu.Unlock()
}

func (r *changeRecorder) notified() []domain.CacheStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CacheStatus
	for _, c := range r.changes {
		if c.notify {
			out = append(out, c.status)
		}
	}
	return out
}

func newTestFS(t *testing.T) *filesystem.Manager {
	t.Helper()
	m, err := filesystem.NewManager(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func newTestEnv(t *testing.T, minFileSize, maxFileSize int64) (*entryEnv, *filesystem.Manager, *changeRecorder) {
	t.Helper()
	fs := newTestFS(t)
	rec := &changeRecorder{}
	env := &entryEnv{
		fs:          fs,
		minFileSize: minFileSize,
		maxFileSize: maxFileSize,
		now:         newFakeClock().Now,
		onChange:    rec.record,
	}
	return env, fs, rec
}

// fillEntry downloads data into e as one complete session
func fillEntry(t *testing.T, e *Entry, data string) {
	t.Helper()
	if err := e.openForAppend(int64(len(data)), false); err != nil {
		t.Fatalf("openForAppend(%s) error = %v", e.Path(), err)
	}
	if err := e.append([]byte(data)); err != nil {
		t.Fatalf("append(%s) error = %v", e.Path(), err)
	}
	if err := e.closeForAppend(true); err != nil {
		t.Fatalf("closeForAppend(%s) error = %v", e.Path(), err)
	}
}

func writeFile(t *testing.T, path, data string, modTime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return string(data)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// memMetadata implements port.MetadataStore in memory
type memMetadata struct {
	mu      sync.Mutex
	records map[string]port.EntryRecord
}

func newMemMetadata() *memMetadata {
	return &memMetadata{records: make(map[string]port.EntryRecord)}
}

func (m *memMetadata) Get(ctx context.Context, path string) (*port.EntryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (m *memMetadata) Save(ctx context.Context, rec *port.EntryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Path] = *rec
	return nil
}

func (m *memMetadata) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, path)
	return nil
}

func (m *memMetadata) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]port.EntryRecord)
	return nil
}

func (m *memMetadata) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *memMetadata) Close() error { return nil }

func (m *memMetadata) get(path string) (port.EntryRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[path]
	return rec, ok
}

// fakeWatcher implements port.DirWatcher and lets tests fire the deletion callback
type fakeWatcher struct {
	mu       sync.Mutex
	onDelete func()
	watches  int
	stops    int
}

func (w *fakeWatcher) Watch(dir string, onDelete func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDelete = onDelete
	w.watches++
	return nil
}

func (w *fakeWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDelete = nil
	w.stops++
	return nil
}

func (w *fakeWatcher) callback() func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.onDelete
}

// fakeConnectivity implements port.Connectivity with a fixed answer
type fakeConnectivity struct {
	mu        sync.Mutex
	connected bool
	changed   chan struct{}
}

func newFakeConnectivity(connected bool) *fakeConnectivity {
	return &fakeConnectivity{connected: connected, changed: make(chan struct{})}
}

func (c *fakeConnectivity) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConnectivity) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *fakeConnectivity) Set(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected == connected {
		return
	}
	c.connected = connected
	close(c.changed)
	c.changed = make(chan struct{})
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(data)
}
