package cacher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/adapter/filesystem"
	"github.com/vertextoedge/media-stream-cache/internal/adapter/remote"
	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/domain/event"
)

// origin serves fixed resources with range support and counts requests
type origin struct {
	mu     sync.Mutex
	files  map[string][]byte
	hits   map[string]int
	ranges []string

	// handle overrides the default handler when it returns true
	handle func(w http.ResponseWriter, r *http.Request, data []byte, hit int) bool
}

func newOrigin(files map[string]string) *origin {
	o := &origin{files: make(map[string][]byte), hits: make(map[string]int)}
	for p, data := range files {
		o.files[p] = []byte(data)
	}
	return o
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/")

	o.mu.Lock()
	o.hits[p]++
	hit := o.hits[p]
	o.ranges = append(o.ranges, r.Header.Get("Range"))
	data, ok := o.files[p]
	handle := o.handle
	o.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer token" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if handle != nil && handle(w, r, data, hit) {
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, p, time.Time{}, bytes.NewReader(data))
}

func (o *origin) hitCount(p string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[p]
}

func (o *origin) rangeHeaders() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ranges...)
}

type testCache struct {
	*Cache
	fs     *filesystem.Manager
	origin *origin
	meta   *memMetadata
	watch  *fakeWatcher
	events *statusRecorder
}

// statusRecorder is a listener that records every change
type statusRecorder struct {
	mu      sync.Mutex
	changes []change
}

func (r *statusRecorder) OnCacheChange(path string, status domain.CacheStatus) {
	r.mu.Lock()
	r.changes = append(r.changes, change{path: path, status: status})
	r.mu.Unlock()
}

func (r *statusRecorder) statuses(path string) []domain.CacheStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CacheStatus
	for _, c := range r.changes {
		if c.path == path {
			out = append(out, c.status)
		}
	}
	return out
}

// newTestCache builds a cache over a fresh root with an httptest origin.
// setup may prepare the root before the cache loads it.
func newTestCache(t *testing.T, cfg *Config, o *origin, setup func(fs *filesystem.Manager)) *testCache {
	t.Helper()

	srv := httptest.NewServer(o)
	t.Cleanup(srv.Close)

	client, err := remote.NewClient(remote.ClientConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	fs := newTestFS(t)
	if setup != nil {
		setup(fs)
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.BaseURL = srv.URL
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 4
	}

	meta := newMemMetadata()
	watch := &fakeWatcher{}
	c, err := New(cfg, fs, client, nil, meta, watch, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	events := &statusRecorder{}
	c.AddListener(events)

	return &testCache{Cache: c, fs: fs, origin: o, meta: meta, watch: watch, events: events}
}

// waitStatus waits until the last status reported for path is status
func waitStatus(t *testing.T, c *testCache, path string, status domain.CacheStatus) {
	t.Helper()
	waitFor(t, 2*time.Second, path+" "+status.String(), func() bool {
		got := c.events.statuses(path)
		return len(got) > 0 && got[len(got)-1] == status
	})
}

func fetch(t *testing.T, c *testCache, path string) (*Entry, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Fetch(ctx, path, "")
}

func TestCache_FetchDownloadsOnce(t *testing.T) {
	content := strings.Repeat("0123456789", 10)
	c := newTestCache(t, nil, newOrigin(map[string]string{"music/song.mp3": content}), nil)

	if err := c.Start("token"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	e, err := fetch(t, c, "/music/song.mp3")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := readFile(t, c.fs.CachePath("music/song.mp3")); got != content {
		t.Errorf("cached content differs: %d bytes, want %d", len(got), len(content))
	}
	if c.CheckStatus("music/song.mp3") != domain.FullyCached {
		t.Errorf("CheckStatus() = %v, want fully cached", c.CheckStatus("music/song.mp3"))
	}

	again, err := fetch(t, c, "music/song.mp3")
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if again != e {
		t.Error("second Fetch() returned a different entry")
	}
	if hits := c.origin.hitCount("music/song.mp3"); hits != 1 {
		t.Errorf("origin hits = %d, want 1", hits)
	}
	if c.queue.Len() != 0 {
		t.Errorf("complete entry queued again")
	}

	waitStatus(t, c, "music/song.mp3", domain.FullyCached)
	if got := c.events.statuses("music/song.mp3"); got[0] != domain.PartiallyCached {
		t.Errorf("listener statuses = %v, want partially cached first", got)
	}

	rec, ok := c.meta.get("music/song.mp3")
	if !ok || rec.TotalLength != int64(len(content)) {
		t.Errorf("stored record = %+v, %v", rec, ok)
	}
}

func TestCache_ResumesBrokenTransfer(t *testing.T) {
	content := strings.Repeat("abcdefghij", 50)
	half := len(content) / 2

	o := newOrigin(map[string]string{"video.mp4": content})
	o.handle = func(w http.ResponseWriter, r *http.Request, data []byte, hit int) bool {
		if hit != 1 {
			return false
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data[:half])
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}
	c := newTestCache(t, nil, o, nil)
	c.Start("token")

	e, err := fetch(t, c, "video.mp4")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got := readFile(t, c.fs.CachePath("video.mp4")); got != content {
		t.Errorf("resumed file differs from origin")
	}
	if hits := o.hitCount("video.mp4"); hits != 2 {
		t.Errorf("origin hits = %d, want 2", hits)
	}
	ranges := o.rangeHeaders()
	if len(ranges) != 2 || ranges[0] != "" || ranges[1] != fmt.Sprintf("bytes=%d-", half) {
		t.Errorf("range headers = %q, want [\"\" \"bytes=%d-\"]", ranges, half)
	}
	if e.Retries() != 0 {
		t.Errorf("Retries() = %d after completion, want 0", e.Retries())
	}
}

func TestCache_RetryLimit(t *testing.T) {
	o := newOrigin(nil)
	o.handle = func(w http.ResponseWriter, r *http.Request, data []byte, hit int) bool {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return true
	}
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	c := newTestCache(t, cfg, o, nil)
	c.Start("token")

	e, err := fetch(t, c, "busy.mp3")
	if !errors.Is(err, domain.ErrIncomplete) {
		t.Fatalf("Fetch() error = %v, want ErrIncomplete", err)
	}

	if hits := o.hitCount("busy.mp3"); hits != 4 {
		t.Errorf("origin hits = %d, want 4", hits)
	}
	if e.Retries() != 4 {
		t.Errorf("Retries() = %d, want 4", e.Retries())
	}
	if e.IsComplete() || !e.HasError() {
		t.Errorf("complete=%v hasError=%v, want false/true", e.IsComplete(), e.HasError())
	}
}

func TestCache_OversizedResource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileSize = 8
	c := newTestCache(t, cfg, newOrigin(map[string]string{"big.bin": strings.Repeat("x", 20)}), nil)
	c.Start("token")

	e, err := fetch(t, c, "big.bin")
	if !errors.Is(err, domain.ErrIncomplete) {
		t.Fatalf("Fetch() error = %v, want ErrIncomplete", err)
	}
	if !e.HasError() || e.State() != domain.StateEmpty {
		t.Errorf("hasError=%v state=%v", e.HasError(), e.State())
	}
	if hits := c.origin.hitCount("big.bin"); hits != 1 {
		t.Errorf("origin hits = %d, want 1", hits)
	}
	if fileExists(c.fs.TempPath("big.bin")) {
		t.Error("temp file written for oversized resource")
	}
}

func TestCache_FinishesFullTempFile(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(map[string]string{"a.mp3": "abcdef"}), func(fs *filesystem.Manager) {
		writeFile(t, fs.TempPath("a.mp3"), "abcdef", time.Time{})
	})

	if got := c.CheckStatus("a.mp3"); got != domain.PartiallyCached {
		t.Fatalf("restored status = %v, want partially cached", got)
	}

	c.Start("token")
	if _, err := fetch(t, c, "a.mp3"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := readFile(t, c.fs.CachePath("a.mp3")); got != "abcdef" {
		t.Errorf("final file = %q", got)
	}
}

func TestCache_GetOrScheduleConcurrent(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), nil)

	const n = 50
	entries := make([]*Entry, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := c.GetOrSchedule("shared/track.mp3", "")
			if err != nil {
				t.Errorf("GetOrSchedule() error = %v", err)
				return
			}
			entries[i] = e
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if entries[i] != entries[0] {
			t.Fatalf("goroutine %d got a different entry", i)
		}
	}
	if c.NumberOfFiles() != 1 {
		t.Errorf("NumberOfFiles() = %d, want 1", c.NumberOfFiles())
	}
	if c.queue.Len() != 1 {
		t.Errorf("queue length = %d, want 1", c.queue.Len())
	}
}

func TestCache_GetOrScheduleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	c := newTestCache(t, cfg, newOrigin(nil), nil)

	for _, p := range []string{"", "/", "../etc/passwd", "a.part", ".hidden.mp3", "album/.cover.jpg"} {
		if _, err := c.GetOrSchedule(p, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("GetOrSchedule(%q) error = %v, want ErrInvalidInput", p, err)
		}
	}

	if _, err := c.GetOrSchedule("a", ""); err != nil {
		t.Fatalf("GetOrSchedule(a) error = %v", err)
	}
	if _, err := c.GetOrSchedule("b", ""); !errors.Is(err, domain.ErrCacheFull) {
		t.Errorf("GetOrSchedule(b) error = %v, want ErrCacheFull", err)
	}
}

func TestCache_HiddenFilesIgnoredOnLoad(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), func(fs *filesystem.Manager) {
		writeFile(t, fs.CachePath(".hidden.mp3"), "hidden", time.Time{})
		writeFile(t, fs.CachePath("album/.cover.jpg"), "cover", time.Time{})
		writeFile(t, fs.CachePath("album/song.mp3"), "song", time.Time{})
	})

	if c.NumberOfFiles() != 1 || c.Entry("album/song.mp3") == nil {
		t.Errorf("loaded %d files, want only album/song.mp3", c.NumberOfFiles())
	}
	for _, p := range []string{".hidden.mp3", "album/.cover.jpg"} {
		if _, err := c.GetOrSchedule(p, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("GetOrSchedule(%q) error = %v, want ErrInvalidInput", p, err)
		}
	}
	if got := readFile(t, c.fs.CachePath(".hidden.mp3")); got != "hidden" {
		t.Errorf("hidden file = %q, want untouched", got)
	}
}

func TestCache_VariantOnlyForFreshEntry(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), func(fs *filesystem.Manager) {
		writeFile(t, fs.TempPath("clip.mp4"), "abc", time.Time{})
	})

	fresh, err := c.GetOrSchedule("new.mp4", "720p")
	if err != nil {
		t.Fatalf("GetOrSchedule() error = %v", err)
	}
	if fresh.Variant() != "720p" {
		t.Errorf("fresh Variant() = %q, want 720p", fresh.Variant())
	}

	partial, err := c.GetOrSchedule("clip.mp4", "720p")
	if err != nil {
		t.Fatalf("GetOrSchedule() error = %v", err)
	}
	if partial.Variant() != "" {
		t.Errorf("partial Variant() = %q, want unchanged", partial.Variant())
	}
}

func TestCache_EvictionNotifiesAndForgets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFiles = 1
	c := newTestCache(t, cfg, newOrigin(map[string]string{"a": "aaaa", "b": "bbbb"}), nil)
	c.Start("token")

	a, err := fetch(t, c, "a")
	if err != nil {
		t.Fatalf("Fetch(a) error = %v", err)
	}
	waitStatus(t, c, "a", domain.FullyCached)
	waitFor(t, 2*time.Second, "worker to release a", a.Unused)

	if _, err := fetch(t, c, "b"); err != nil {
		t.Fatalf("Fetch(b) error = %v", err)
	}

	if c.NumberOfFiles() != 1 || c.Entry("a") != nil {
		t.Errorf("a not evicted: files = %d", c.NumberOfFiles())
	}
	if fileExists(c.fs.CachePath("a")) {
		t.Error("evicted file still on disk")
	}
	if _, ok := c.meta.get("a"); ok {
		t.Error("evicted record still stored")
	}
	got := c.events.statuses("a")
	if len(got) == 0 || got[len(got)-1] != domain.NotCached {
		t.Errorf("statuses for a = %v, want trailing not cached", got)
	}
}

// blockingOrigin sends the first chunk of every resource and then stalls
func blockingOrigin(t *testing.T, files map[string]string) *origin {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	o := newOrigin(files)
	o.handle = func(w http.ResponseWriter, r *http.Request, data []byte, hit int) bool {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data[:4])
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
		return true
	}
	return o
}

func TestCache_StopAllLoadingInterrupts(t *testing.T) {
	o := blockingOrigin(t, map[string]string{"a": "aaaaaaaaaa", "b": "bbbbbbbbbb"})
	c := newTestCache(t, nil, o, nil)
	c.Start("token")

	a, _ := c.GetOrSchedule("a", "")
	b, _ := c.GetOrSchedule("b", "")

	waitFor(t, 2*time.Second, "first chunk of a", func() bool {
		return a.CachedLength() == 4 && c.Stats().CurrentPath == "a"
	})

	c.StopAllLoading()

	waitFor(t, 2*time.Second, "a to settle", func() bool {
		return !a.Scheduled() && a.State() == domain.StateExists
	})

	if b.Scheduled() || c.queue.Len() != 0 {
		t.Error("queue not cleared")
	}
	if a.HasError() || a.Retries() != 0 {
		t.Errorf("interrupt recorded an error: hasError=%v retries=%d", a.HasError(), a.Retries())
	}
	if got := readFile(t, c.fs.TempPath("a")); got != "aaaa" {
		t.Errorf("temp file = %q, want kept partial content", got)
	}
	if hits := o.hitCount("a"); hits != 1 {
		t.Errorf("origin hits for a = %d, want 1", hits)
	}
	if hits := o.hitCount("b"); hits != 0 {
		t.Errorf("origin hits for b = %d, want 0", hits)
	}
}

func TestCache_StopAllLoadingKeepsCurrent(t *testing.T) {
	o := blockingOrigin(t, map[string]string{"a": "aaaaaaaaaa", "b": "bbbbbbbbbb"})
	c := newTestCache(t, nil, o, nil)
	c.Start("token")

	a, _ := c.GetOrSchedule("a", "")
	b, _ := c.GetOrSchedule("b", "")

	waitFor(t, 2*time.Second, "first chunk of a", func() bool {
		return a.CachedLength() == 4 && c.Stats().CurrentPath == "a"
	})

	c.StopAllLoading("/a", "b")

	time.Sleep(50 * time.Millisecond)
	if a.State() != domain.StateFilling || c.Stats().CurrentPath != "a" {
		t.Errorf("current download interrupted: state=%v current=%q", a.State(), c.Stats().CurrentPath)
	}
	if b.Scheduled() {
		t.Error("queued entry b still scheduled")
	}
}

func TestCache_ShouldInterrupt(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), nil)

	done, _ := c.index.GetOrCreate("done")
	fillEntry(t, done, "xyz")
	c.index.GetOrCreate("partial")

	tests := []struct {
		name    string
		current string
		keep    []string
		want    bool
	}{
		{"nothing kept", "cur", nil, true},
		{"current is first", "cur", []string{"cur", "other"}, false},
		{"single other path", "cur", []string{"other"}, true},
		{"first complete and current later", "cur", []string{"done", "x", "cur"}, false},
		{"first complete and current absent", "cur", []string{"done", "x"}, true},
		{"first partial and current later", "cur", []string{"partial", "cur"}, true},
		{"first unknown and current later", "cur", []string{"missing", "cur"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.shouldInterrupt(tt.current, tt.keep); got != tt.want {
				t.Errorf("shouldInterrupt(%q, %v) = %v, want %v", tt.current, tt.keep, got, tt.want)
			}
		})
	}
}

func TestCache_RootDeletedResets(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), func(fs *filesystem.Manager) {
		writeFile(t, fs.CachePath("a.mp3"), "aaa", time.Time{})
		writeFile(t, fs.TempPath("b.mp3"), "bb", time.Time{})
	})

	if c.NumberOfFiles() != 2 {
		t.Fatalf("NumberOfFiles() = %d, want 2", c.NumberOfFiles())
	}
	a := c.Entry("a.mp3")
	c.meta.Save(context.Background(), a.record())

	if err := os.RemoveAll(c.RootDir()); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	cb := c.watch.callback()
	if cb == nil {
		t.Fatal("root not watched")
	}
	cb()

	if c.NumberOfFiles() != 0 {
		t.Errorf("NumberOfFiles() = %d after reset, want 0", c.NumberOfFiles())
	}
	if !c.fs.RootExists() {
		t.Error("root not recreated")
	}
	if !a.Destroyed() {
		t.Error("old entry not destroyed")
	}
	if n, _ := c.meta.Count(context.Background()); n != 0 {
		t.Errorf("stored records = %d after reset, want 0", n)
	}
	if got := c.events.statuses("b.mp3"); len(got) != 1 || got[0] != domain.NotCached {
		t.Errorf("statuses for b.mp3 = %v, want [not cached]", got)
	}

	// A callback from the previous watch is ignored
	c.GetOrSchedule("c.mp3", "")
	cb()
	if c.NumberOfFiles() != 1 {
		t.Errorf("stale callback reset the cache: files = %d", c.NumberOfFiles())
	}
}

func TestCache_VerifyRoot(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), func(fs *filesystem.Manager) {
		writeFile(t, fs.CachePath("a.mp3"), "aaa", time.Time{})
	})

	if c.VerifyRoot() {
		t.Error("VerifyRoot() reset an intact cache")
	}

	os.RemoveAll(c.RootDir())

	e, err := c.GetOrSchedule("a.mp3", "")
	if err != nil {
		t.Fatalf("GetOrSchedule() error = %v", err)
	}
	if e.State() != domain.StateEmpty {
		t.Errorf("state after root removal = %v, want empty", e.State())
	}
	if c.NumberOfFiles() != 1 || !c.fs.RootExists() {
		t.Errorf("files = %d root exists = %v", c.NumberOfFiles(), c.fs.RootExists())
	}
}

func TestCache_StartStop(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), nil)

	if err := c.Start(""); err != nil {
		t.Fatalf("Start(\"\") error = %v", err)
	}
	if !c.Started() || c.Downloading() {
		t.Errorf("without token started=%v downloading=%v, want true false", c.Started(), c.Downloading())
	}
	if err := c.Start(""); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Errorf("second Start(\"\") error = %v, want ErrAlreadyStarted", err)
	}
	c.Stop()
	if c.Started() {
		t.Error("still started after Stop")
	}

	if err := c.Start("token"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start("token"); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	c.GetOrSchedule("missing", "")
	c.Stop()
	if c.Started() || c.Downloading() || c.queue.Len() != 0 {
		t.Errorf("after Stop started=%v queued=%d", c.Started(), c.queue.Len())
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Start("token"); err == nil {
		t.Error("Start() after Close succeeded")
	}
}

func TestCache_FetchWithoutWorker(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(map[string]string{"a.mp3": "abc"}), func(fs *filesystem.Manager) {
		writeFile(t, fs.CachePath("done.mp3"), "done", time.Time{})
	})

	if _, err := c.Fetch(context.Background(), "a.mp3", ""); !errors.Is(err, domain.ErrNotStarted) {
		t.Errorf("Fetch() error = %v, want ErrNotStarted", err)
	}

	e, err := c.Fetch(context.Background(), "done.mp3", "")
	if err != nil {
		t.Fatalf("Fetch() of complete entry error = %v", err)
	}
	if !e.IsComplete() {
		t.Error("entry should be complete")
	}

	if err := c.Start(""); err != nil {
		t.Fatalf("Start(\"\") error = %v", err)
	}
	if _, err := c.Fetch(context.Background(), "a.mp3", ""); !errors.Is(err, domain.ErrNotStarted) {
		t.Errorf("Fetch() without token error = %v, want ErrNotStarted", err)
	}
}

func TestCache_Listeners(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), nil)

	l := event.NewFuncListener(func(string, domain.CacheStatus) {})
	if !c.AddListener(l) {
		t.Error("AddListener() = false")
	}
	if c.AddListener(l) {
		t.Error("AddListener() of duplicate = true")
	}
	if !c.RemoveListener(l) {
		t.Error("RemoveListener() = false")
	}
	if c.RemoveListener(l) {
		t.Error("RemoveListener() twice = true")
	}

	var calls atomic.Int32
	c.AddListener(event.NewFuncListener(func(string, domain.CacheStatus) { calls.Add(1) }))
	c.RemoveAllListeners()

	e, _ := c.index.GetOrCreate("x")
	fillEntry(t, e, "x")
	if calls.Load() != 0 {
		t.Errorf("removed listener called %d times", calls.Load())
	}
}

func TestCache_PathFromURL(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), nil)
	c.basePath = "/media/"

	tests := []struct {
		url  string
		want string
	}{
		{"http://origin/media/music/a.mp3", "music/a.mp3"},
		{"http://origin/media/a.mp3?transcode=hd", "a.mp3"},
		{"http://origin/other/a.mp3", "other/a.mp3"},
	}
	for _, tt := range tests {
		if got := c.PathFromURL(tt.url); got != tt.want {
			t.Errorf("PathFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestCache_Stats(t *testing.T) {
	c := newTestCache(t, nil, newOrigin(nil), func(fs *filesystem.Manager) {
		writeFile(t, fs.CachePath("a"), "12345", time.Time{})
	})
	c.GetOrSchedule("b", "")

	stats := c.Stats()
	want := 5 + c.Config().MinFileSize
	if stats.Files != 2 || stats.SizeBytes != want || stats.Queued != 1 {
		t.Errorf("Stats() = %+v, want 2 files %d bytes 1 queued", stats, want)
	}
	if len(c.Entries()) != 2 {
		t.Errorf("Entries() = %d, want 2", len(c.Entries()))
	}
}
