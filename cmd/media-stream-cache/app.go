package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/adapter/filesystem"
	"github.com/vertextoedge/media-stream-cache/internal/adapter/remote"
	"github.com/vertextoedge/media-stream-cache/internal/adapter/sqlite"
	"github.com/vertextoedge/media-stream-cache/internal/adapter/watcher"
	"github.com/vertextoedge/media-stream-cache/internal/config"
	"github.com/vertextoedge/media-stream-cache/internal/domain/event"
	"github.com/vertextoedge/media-stream-cache/internal/netstate"
	"github.com/vertextoedge/media-stream-cache/internal/port"
	"github.com/vertextoedge/media-stream-cache/internal/service/cacher"
)

// app holds the components shared by all commands
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	fs      *filesystem.Manager
	store   *sqlite.Store  // nil when the database is disabled
	client  *remote.Client // nil without remote.base_url
	monitor *netstate.Monitor
	cache   *cacher.Cache
	metrics *event.MetricsListener
}

// newApp opens the cache. watchRoot arms the root deletion watch, which only
// long running commands need.
func newApp(cfg *config.Config, logger *zap.Logger, watchRoot bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		monitor: netstate.NewMonitor(true, logger),
		metrics: event.NewMetricsListener(),
	}

	var err error
	a.fs, err = filesystem.NewManager(cfg.Cache.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem manager: %w", err)
	}

	var meta port.MetadataStore
	if cfg.Database.Enabled {
		a.store, err = sqlite.Open(cfg.DatabasePath())
		if err != nil {
			return nil, fmt.Errorf("failed to open database %s: %w", cfg.DatabasePath(), err)
		}
		meta = a.store
	}

	var src port.RemoteSource
	if cfg.Remote.BaseURL != "" {
		clientCfg := remote.DefaultClientConfig()
		clientCfg.BaseURL = cfg.Remote.BaseURL
		clientCfg.SkipTLSVerify = cfg.Remote.SkipTLSVerify
		clientCfg.ResponseHeaderTimeout = cfg.Remote.GetResponseHeaderTimeout()
		if cfg.Remote.VariantParam != "" {
			clientCfg.VariantParam = cfg.Remote.VariantParam
		}
		a.client, err = remote.NewClient(clientCfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create remote client: %w", err)
		}
		src = a.client
	}

	var dirWatcher port.DirWatcher
	if watchRoot && cfg.Cache.WatchRoot {
		dirWatcher = watcher.New(logger)
	}

	cacheCfg := &cacher.Config{
		BaseURL:           cfg.Remote.BaseURL,
		MaxSizeBytes:      cfg.Cache.MaxSizeBytes(),
		MaxFiles:          cfg.Cache.MaxFiles,
		MinFileSize:       cfg.Cache.MinFileSizeBytes(),
		MaxFileSize:       cfg.Cache.MaxFileSizeBytes(),
		MaxRetries:        cfg.Cache.MaxRetries,
		QueueSize:         cfg.Cache.QueueSize,
		BufferSize:        cfg.Cache.GetBufferSize(),
		NotConnectedWait:  cfg.Network.GetNotConnectedWait(),
		ProgressInterval:  cfg.Cache.GetProgressInterval(),
		ReaderIdleTimeout: cfg.Cache.GetReaderIdleTimeout(),
	}
	a.cache, err = cacher.New(cacheCfg, a.fs, src, a.monitor, meta, dirWatcher, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	a.cache.AddListener(event.NewLoggingListener(logger))
	a.cache.AddListener(a.metrics)

	return a, nil
}

// startDownloads starts the download worker when an origin is configured
func (a *app) startDownloads() error {
	if a.client == nil {
		a.logger.Warn("no remote.base_url configured, serving cached files only")
		return a.cache.Start("")
	}
	return a.cache.Start(a.cfg.Remote.Token)
}

// resolvePath accepts a resource path or a full origin URL
func (a *app) resolvePath(arg string) string {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return a.cache.PathFromURL(arg)
	}
	return arg
}

// Close stops the cache and releases the database
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close cache", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
}
