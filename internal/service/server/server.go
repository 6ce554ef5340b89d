package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/domain/event"
	"github.com/vertextoedge/media-stream-cache/internal/port"
	"github.com/vertextoedge/media-stream-cache/internal/service/cacher"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration // 0 keeps long streams open
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:    "127.0.0.1:8080",
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// CacheService is the part of the cache exposed over HTTP
type CacheService interface {
	GetOrSchedule(path, variant string) (*cacher.Entry, error)
	Entry(path string) *cacher.Entry
	OpenReader(ctx context.Context, e *cacher.Entry) (io.ReadCloser, error)
	StopAllLoading(keep ...string)
	Stats() domain.CacheStats
	Entries() []cacher.EntryInfo
}

// ConnectivitySetter lets operators override the connectivity state
type ConnectivitySetter interface {
	Connected() bool
	Set(connected bool)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping() error
}

// Deps holds the components served by the API. Monitor, Health and Metrics are optional.
type Deps struct {
	Cache   CacheService
	FS      port.FileSystem
	Monitor ConnectivitySetter
	Health  Pinger
	Metrics *event.MetricsListener
}

// Server represents the HTTP API server
type Server struct {
	config        *Config
	deps          Deps
	logger        *zap.Logger
	server        *http.Server
	handler       http.Handler
	streamHandler *StreamHandler
	adminHandler  *AdminHandler
	debugHandler  *DebugHandler
}

// New creates a new HTTP server
func New(cfg *Config, deps Deps, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}

	s.streamHandler = NewStreamHandler(deps.Cache, deps.FS, logger)
	s.adminHandler = NewAdminHandler(deps.Cache, deps.Monitor, logger)
	s.debugHandler = NewDebugHandler(deps.Cache, deps.Metrics, logger)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Cache endpoints
	mux.HandleFunc("/stream/", s.streamHandler.HandleStream)
	mux.HandleFunc("/status/", s.streamHandler.HandleStatus)

	// Admin endpoints
	admin := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if cfg.AdminUsername != "" {
		admin = BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger)
	}
	mux.HandleFunc("/admin/stop-loading", admin(s.adminHandler.HandleStopLoading))
	mux.HandleFunc("/admin/connectivity", admin(s.adminHandler.HandleConnectivity))

	// Debug endpoints
	mux.HandleFunc("/debug/stats", s.debugHandler.HandleStats)
	mux.HandleFunc("/debug/entries", s.debugHandler.HandleEntries)

	s.handler = RequestIDMiddleware(LoggingMiddleware(logger)(mux))
	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
			return
		}
	}
	if s.deps.FS != nil && !s.deps.FS.RootExists() {
		http.Error(w, "Cache directory missing", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
