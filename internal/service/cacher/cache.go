package cacher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/domain/event"
	"github.com/vertextoedge/media-stream-cache/internal/domain/vo"
	"github.com/vertextoedge/media-stream-cache/internal/port"
	"github.com/vertextoedge/media-stream-cache/internal/util/ratelimiter"
)

const (
	DefaultMaxFiles          = 1000
	DefaultMaxSizeBytes      = 2 * vo.GB
	DefaultMinFileSize       = 5 * vo.MB
	DefaultMaxFileSize       = 250 * vo.MB
	DefaultMaxRetries        = 3
	DefaultQueueSize         = 1000
	DefaultBufferSize        = int(10 * vo.KB)
	DefaultNotConnectedWait  = 10 * time.Second
	DefaultProgressInterval  = 5 * time.Second
	DefaultReaderIdleTimeout = 30 * time.Second
)

// Config contains cache configuration
type Config struct {
	BaseURL           string
	MaxSizeBytes      int64
	MaxFiles          int
	MinFileSize       int64
	MaxFileSize       int64
	MaxRetries        int
	QueueSize         int
	BufferSize        int
	NotConnectedWait  time.Duration
	ProgressInterval  time.Duration
	ReaderIdleTimeout time.Duration
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSizeBytes:      DefaultMaxSizeBytes,
		MaxFiles:          DefaultMaxFiles,
		MinFileSize:       DefaultMinFileSize,
		MaxFileSize:       DefaultMaxFileSize,
		MaxRetries:        DefaultMaxRetries,
		QueueSize:         DefaultQueueSize,
		BufferSize:        DefaultBufferSize,
		NotConnectedWait:  DefaultNotConnectedWait,
		ProgressInterval:  DefaultProgressInterval,
		ReaderIdleTimeout: DefaultReaderIdleTimeout,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = d.MaxSizeBytes
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = d.MaxFiles
	}
	if c.MinFileSize <= 0 {
		c.MinFileSize = d.MinFileSize
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.NotConnectedWait <= 0 {
		c.NotConnectedWait = d.NotConnectedWait
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = d.ProgressInterval
	}
	if c.ReaderIdleTimeout <= 0 {
		c.ReaderIdleTimeout = d.ReaderIdleTimeout
	}
}

// Cache is the entry point of the media cache. It owns the index, the
// download queue and the single download worker.
type Cache struct {
	config  *Config
	fs      port.FileSystem
	remote  port.RemoteSource
	conn    port.Connectivity
	meta    port.MetadataStore
	watcher port.DirWatcher
	logger  *zap.Logger

	index      *Index
	queue      *Deque
	dispatcher *event.Dispatcher
	progress   *ratelimiter.Limiter
	basePath   string

	mu       sync.Mutex
	started  bool
	worker   *Worker // nil when started without a token
	watchGen uint64
	closed   bool
}

// New creates a cache over the files already present in the root directory.
// remote, conn, meta and watcher may be nil.
func New(
	cfg *Config,
	fs port.FileSystem,
	remote port.RemoteSource,
	conn port.Connectivity,
	meta port.MetadataStore,
	watcher port.DirWatcher,
	logger *zap.Logger,
) (*Cache, error) {
	if fs == nil {
		return nil, errors.New("filesystem is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()

	c := &Cache{
		config:     cfg,
		fs:         fs,
		remote:     remote,
		conn:       conn,
		meta:       meta,
		watcher:    watcher,
		logger:     logger,
		queue:      NewDeque(cfg.QueueSize),
		dispatcher: event.NewDispatcher(),
		progress:   ratelimiter.New(cfg.ProgressInterval),
	}

	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		c.basePath = u.Path
	}

	env := &entryEnv{
		fs:          fs,
		minFileSize: cfg.MinFileSize,
		maxFileSize: cfg.MaxFileSize,
		now:         time.Now,
		onChange:    c.entryChanged,
	}
	c.index = newIndex(cfg, env, meta, logger)
	c.index.onEvict = c.entryEvicted

	if err := fs.EnsureRoot(); err != nil {
		return nil, err
	}

	loaded, err := c.index.LoadFromDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to load cache dir: %w", err)
	}

	c.logger.Info("cache loaded",
		zap.String("root", fs.RootDir()),
		zap.Int("files", loaded),
		zap.String("size", humanize.IBytes(uint64(c.index.Size()))),
		zap.String("max_size", humanize.IBytes(uint64(cfg.MaxSizeBytes))))

	c.mu.Lock()
	c.armWatchLocked()
	c.mu.Unlock()

	return c, nil
}

// GetOrSchedule returns the entry for path, creating it if needed, and
// queues it for download unless it is complete. variant only applies to a
// fresh entry.
func (c *Cache) GetOrSchedule(path, variant string) (*Entry, error) {
	rp, err := vo.NewResourcePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	p := rp.String()

	c.resetIfRootMissing()

	e, created := c.index.GetOrCreate(p)
	if err := e.SetVariant(variant); err != nil {
		c.logger.Debug("variant ignored",
			zap.String("path", p),
			zap.String("requested", variant),
			zap.String("variant", e.Variant()))
	}
	if created {
		c.logger.Debug("cache entry created", zap.String("path", p))
	}

	switch e.State() {
	case domain.StateComplete, domain.StateFilling:
		return e, nil
	}

	if err := c.queue.PushBack(e); err != nil {
		return nil, fmt.Errorf("failed to schedule %s: %w", p, err)
	}
	return e, nil
}

// Fetch schedules path and waits until it is fully cached or the download settled without completing.
// Without a running worker only complete entries can be fetched.
func (c *Cache) Fetch(ctx context.Context, path, variant string) (*Entry, error) {
	e, err := c.GetOrSchedule(path, variant)
	if err != nil {
		return nil, err
	}
	if !e.IsComplete() && !c.Downloading() {
		return e, domain.ErrNotStarted
	}

	for {
		changed := e.waitChange()

		if e.IsComplete() {
			return e, nil
		}
		if e.Destroyed() {
			return e, domain.ErrEntryDestroyed
		}
		if !e.Scheduled() && e.State() != domain.StateFilling {
			return e, fmt.Errorf("%w: %s", domain.ErrIncomplete, e.Path())
		}

		select {
		case <-ctx.Done():
			return e, ctx.Err()
		case <-changed:
		}
	}
}

// Entry returns the entry for path or nil
func (c *Cache) Entry(path string) *Entry {
	rp, err := vo.NewResourcePath(path)
	if err != nil {
		return nil
	}
	return c.index.Get(rp.String())
}

// CheckStatus returns the cache status of path
func (c *Cache) CheckStatus(path string) domain.CacheStatus {
	e := c.Entry(path)
	if e == nil {
		return domain.NotCached
	}
	return domain.StatusOf(e.State())
}

// StopAllLoading clears the queue and interrupts the current download unless
// it is worth finishing. The current download survives when it is keep[0],
// or when keep[0] is already complete and the current path is among the
// remaining keep paths.
func (c *Cache) StopAllLoading(keep ...string) {
	dropped := c.queue.Clear()

	c.mu.Lock()
	w := c.worker
	c.mu.Unlock()
	if w == nil {
		return
	}

	current := w.CurrentPath()
	if current == "" {
		return
	}

	normalized := make([]string, 0, len(keep))
	for _, k := range keep {
		if rp, err := vo.NewResourcePath(k); err == nil {
			normalized = append(normalized, rp.String())
		}
	}

	if !c.shouldInterrupt(current, normalized) {
		c.logger.Debug("keeping current download",
			zap.String("path", current),
			zap.Int("dropped", dropped))
		return
	}

	if w.Interrupt(current) {
		c.logger.Info("stopped loading",
			zap.String("interrupted", current),
			zap.Int("dropped", dropped))
	}
}

func (c *Cache) shouldInterrupt(current string, keep []string) bool {
	if len(keep) == 0 {
		return true
	}
	if keep[0] == current {
		return false
	}
	if len(keep) == 1 {
		return true
	}

	first := c.index.Get(keep[0])
	if first == nil || !first.IsComplete() {
		return true
	}
	for _, k := range keep[1:] {
		if k == current {
			return false
		}
	}
	return true
}

// Start starts the download worker. Without a token no worker is started.
func (c *Cache) Start(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("cache is closed")
	}
	if c.started {
		return domain.ErrAlreadyStarted
	}
	if token == "" {
		c.logger.Info("no token configured, downloads disabled")
		c.started = true
		return nil
	}
	if c.remote == nil {
		return errors.New("remote source is required")
	}

	w := NewWorker(WorkerConfig{
		Token:            token,
		MaxRetries:       c.config.MaxRetries,
		BufferSize:       c.config.BufferSize,
		MaxFileSize:      c.config.MaxFileSize,
		NotConnectedWait: c.config.NotConnectedWait,
	}, c.remote, c.conn, c.queue, c.logger)
	w.onProgress = c.entryProgressed

	if err := w.Start(context.Background()); err != nil {
		return err
	}
	c.worker = w
	c.started = true
	return nil
}

// Stop stops the download worker and clears the queue
func (c *Cache) Stop() {
	c.mu.Lock()
	w := c.worker
	c.worker = nil
	c.started = false
	c.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	c.queue.Clear()
}

// Started reports whether Start succeeded and Stop has not been called since
func (c *Cache) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Downloading reports whether the download worker runs
func (c *Cache) Downloading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker != nil
}

// Close stops the worker and the directory watch
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.watchGen++
	var err error
	if c.watcher != nil {
		err = c.watcher.Stop()
	}
	c.mu.Unlock()

	c.Stop()
	return err
}

// AddListener registers a status listener
func (c *Cache) AddListener(l event.Listener) bool {
	return c.dispatcher.Add(l)
}

// RemoveListener unregisters a status listener
func (c *Cache) RemoveListener(l event.Listener) bool {
	return c.dispatcher.Remove(l)
}

// RemoveAllListeners unregisters every status listener
func (c *Cache) RemoveAllListeners() {
	c.dispatcher.RemoveAll()
}

// PathFromURL maps a resource URL back to its path by stripping the base URL path
func (c *Cache) PathFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(vo.FromURLPath(u.Path, c.basePath), "/")
}

// NumberOfFiles returns the number of indexed entries
func (c *Cache) NumberOfFiles() int {
	return c.index.Len()
}

// CacheSize returns the aggregate known length of all entries
func (c *Cache) CacheSize() int64 {
	return c.index.Size()
}

// Trim evicts entries until the limits hold
func (c *Cache) Trim() int {
	return c.index.Trim()
}

// Entries returns a copy of all entries from least to most recently used
func (c *Cache) Entries() []EntryInfo {
	entries := c.index.Entries()
	infos := make([]EntryInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.Info())
	}
	return infos
}

// Stats returns cache statistics
func (c *Cache) Stats() domain.CacheStats {
	stats := domain.CacheStats{
		Files:        c.index.Len(),
		SizeBytes:    c.index.Size(),
		MaxFiles:     c.config.MaxFiles,
		MaxSizeBytes: c.config.MaxSizeBytes,
		Queued:       c.queue.Len(),
	}

	c.mu.Lock()
	w := c.worker
	c.mu.Unlock()
	if w != nil {
		stats.WorkerActive = w.Running()
		stats.CurrentPath = w.CurrentPath()
	}
	return stats
}

// Config returns the effective configuration
func (c *Cache) Config() Config {
	return *c.config
}

// RootDir returns the cache root directory
func (c *Cache) RootDir() string {
	return c.fs.RootDir()
}

// VerifyRoot resets the cache if its root directory disappeared.
// Returns true when a reset happened.
func (c *Cache) VerifyRoot() bool {
	return c.resetIfRootMissing()
}

func (c *Cache) resetIfRootMissing() bool {
	c.mu.Lock()
	if c.closed || c.fs.RootExists() {
		c.mu.Unlock()
		return false
	}
	removed := c.resetLocked("cache root missing")
	c.mu.Unlock()

	c.reportRemoved(removed)
	return true
}

func (c *Cache) onRootDeleted(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.watchGen {
		c.mu.Unlock()
		c.logger.Debug("ignoring stale root watch event")
		return
	}
	removed := c.resetLocked("cache root deleted")
	c.mu.Unlock()

	c.reportRemoved(removed)
}

// resetLocked recreates the root and drops all state. c.mu must be held.
func (c *Cache) resetLocked(reason string) []*Entry {
	c.logger.Warn("resetting cache", zap.String("reason", reason), zap.String("root", c.fs.RootDir()))

	c.watchGen++
	if c.watcher != nil {
		if err := c.watcher.Stop(); err != nil {
			c.logger.Debug("failed to stop root watch", zap.Error(err))
		}
	}

	if err := c.fs.EnsureRoot(); err != nil {
		c.logger.Error("failed to recreate cache root", zap.Error(err))
	}

	c.queue.Clear()
	if c.worker != nil {
		c.worker.Interrupt("")
	}

	removed := c.index.Clear()
	c.progress.Reset()

	if c.meta != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.meta.DeleteAll(ctx); err != nil {
			c.logger.Warn("failed to clear entry metadata", zap.Error(err))
		}
		cancel()
	}

	c.armWatchLocked()
	return removed
}

func (c *Cache) armWatchLocked() {
	if c.watcher == nil || c.closed {
		return
	}
	gen := c.watchGen
	if err := c.watcher.Watch(c.fs.RootDir(), func() { c.onRootDeleted(gen) }); err != nil {
		c.logger.Warn("failed to watch cache root", zap.Error(err))
	}
}

func (c *Cache) reportRemoved(removed []*Entry) {
	for _, e := range removed {
		c.dispatcher.Dispatch(e.Path(), domain.NotCached)
	}
}

func (c *Cache) entryChanged(e *Entry, status domain.CacheStatus, notify bool) {
	c.persist(e)
	if notify {
		c.dispatcher.Dispatch(e.Path(), status)
	}
}

func (c *Cache) entryProgressed(e *Entry) {
	if ok, _ := c.progress.Allow(e.Path()); ok {
		c.persist(e)
	}
}

func (c *Cache) entryEvicted(e *Entry) {
	c.queue.Remove(e)
	c.progress.Forget(e.Path())

	if c.meta != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.meta.Delete(ctx, e.Path()); err != nil {
			c.logger.Warn("failed to delete entry metadata", zap.String("path", e.Path()), zap.Error(err))
		}
		cancel()
	}

	c.dispatcher.Dispatch(e.Path(), domain.NotCached)
}

func (c *Cache) persist(e *Entry) {
	if c.meta == nil || e.Destroyed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.meta.Save(ctx, e.record()); err != nil {
		c.logger.Warn("failed to save entry metadata", zap.String("path", e.Path()), zap.Error(err))
	}
}
