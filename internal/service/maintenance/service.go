package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// CheckInterval is how often the cache limits and root directory are checked
	CheckInterval time.Duration

	// CleanupInterval is how often empty directories and stale records are removed
	CleanupInterval time.Duration

	// MetadataMaxAge is how long an untouched metadata record is kept
	MetadataMaxAge time.Duration

	// DiskWarnPercent logs a warning when the cache volume is fuller than this
	DiskWarnPercent float64
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:   time.Minute,
		CleanupInterval: time.Hour,
		MetadataMaxAge:  30 * 24 * time.Hour,
		DiskWarnPercent: 95,
	}
}

// Cache is the part of the media cache the service maintains
type Cache interface {
	Trim() int
	VerifyRoot() bool
	Stats() domain.CacheStats
}

// StaleRecordCleaner removes metadata records that were not updated recently
type StaleRecordCleaner interface {
	DeleteStale(ctx context.Context, olderThan time.Time) (int, error)
}

// Service handles periodic maintenance tasks
type Service struct {
	config  *Config
	cache   Cache
	fs      port.FileSystem
	records StaleRecordCleaner
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. records may be nil.
func New(cfg *Config, cache Cache, fs port.FileSystem, records StaleRecordCleaner, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	d := DefaultConfig()
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = d.CleanupInterval
	}
	if cfg.MetadataMaxAge == 0 {
		cfg.MetadataMaxAge = d.MetadataMaxAge
	}
	if cfg.DiskWarnPercent == 0 {
		cfg.DiskWarnPercent = d.DiskWarnPercent
	}

	return &Service{
		config:  cfg,
		cache:   cache,
		fs:      fs,
		records: records,
		logger:  logger,
		now:     time.Now,
	}
}

// Start runs the maintenance loop until ctx is done or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("check_interval", s.config.CheckInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// RunOnce performs a check and a cleanup pass immediately
func (s *Service) RunOnce(ctx context.Context) {
	s.check()
	s.cleanup(ctx)
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	checkTicker := time.NewTicker(s.config.CheckInterval)
	defer checkTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkTicker.C:
			s.check()
		case <-cleanupTicker.C:
			s.cleanup(ctx)
		}
	}
}

// check restores a deleted root and enforces the cache limits
func (s *Service) check() {
	if s.cache.VerifyRoot() {
		s.logger.Warn("cache root was missing, cache reset")
	}

	if evicted := s.cache.Trim(); evicted > 0 {
		s.logger.Info("trimmed cache", zap.Int("evicted", evicted))
	}
}

// cleanup removes empty directories and stale metadata, then logs usage
func (s *Service) cleanup(ctx context.Context) {
	dirs, err := s.fs.CleanEmptyDirs()
	if err != nil {
		s.logger.Error("failed to clean empty directories", zap.Error(err))
	} else if dirs > 0 {
		s.logger.Info("removed empty directories", zap.Int("count", dirs))
	}

	if s.records != nil {
		removed, err := s.records.DeleteStale(ctx, s.now().Add(-s.config.MetadataMaxAge))
		if err != nil {
			s.logger.Error("failed to delete stale metadata", zap.Error(err))
		} else if removed > 0 {
			s.logger.Info("deleted stale metadata records", zap.Int("count", removed))
		}
	}

	s.logUsage()
}

func (s *Service) logUsage() {
	stats := s.cache.Stats()
	fields := []zap.Field{
		zap.Int("files", stats.Files),
		zap.Int("max_files", stats.MaxFiles),
		zap.String("size", humanize.IBytes(uint64(stats.SizeBytes))),
		zap.String("max_size", humanize.IBytes(uint64(stats.MaxSizeBytes))),
		zap.Int("queued", stats.Queued),
	}

	usage, err := s.fs.GetDiskUsage()
	if err != nil {
		s.logger.Warn("failed to get disk usage", zap.Error(err))
		s.logger.Info("cache usage", fields...)
		return
	}

	fields = append(fields,
		zap.String("disk_free", humanize.IBytes(usage.Free)),
		zap.Float64("disk_used_pct", usage.UsedPct))
	s.logger.Info("cache usage", fields...)

	if usage.UsedPct >= s.config.DiskWarnPercent {
		s.logger.Warn("cache volume almost full",
			zap.Float64("used_pct", usage.UsedPct),
			zap.String("free", humanize.IBytes(usage.Free)))
	}
}
