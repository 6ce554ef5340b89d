package server

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/domain/event"
)

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	cache   CacheService
	metrics *event.MetricsListener
	logger  *zap.Logger
}

// NewDebugHandler creates a new DebugHandler. metrics may be nil.
func NewDebugHandler(cache CacheService, metrics *event.MetricsListener, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleStats handles debug statistics requests
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.cache.Stats()
	response := map[string]interface{}{
		"files":          stats.Files,
		"max_files":      stats.MaxFiles,
		"size_bytes":     stats.SizeBytes,
		"max_size_bytes": stats.MaxSizeBytes,
		"size":           humanize.IBytes(uint64(stats.SizeBytes)),
		"max_size":       humanize.IBytes(uint64(stats.MaxSizeBytes)),
		"queued":         stats.Queued,
		"current_path":   stats.CurrentPath,
		"worker_active":  stats.WorkerActive,
	}
	if h.metrics != nil {
		response["events"] = h.metrics.GetMetrics()
	}

	writeJSON(w, response)
}

// HandleEntries lists all entries from least to most recently used
func (h *DebugHandler) HandleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, h.cache.Entries())
}
