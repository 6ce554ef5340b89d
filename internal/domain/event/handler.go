package event

import (
	"sync/atomic"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"go.uber.org/zap"
)

// LoggingListener logs all status changes
type LoggingListener struct {
	logger *zap.Logger
}

// NewLoggingListener creates a new LoggingListener
func NewLoggingListener(logger *zap.Logger) *LoggingListener {
	return &LoggingListener{logger: logger}
}

// OnCacheChange logs the change
func (h *LoggingListener) OnCacheChange(path string, status domain.CacheStatus) {
	switch status {
	case domain.FullyCached:
		h.logger.Info("resource fully cached", zap.String("path", path))
	case domain.PartiallyCached:
		h.logger.Debug("resource partially cached", zap.String("path", path))
	default:
		h.logger.Debug("resource not cached", zap.String("path", path))
	}
}

// MetricsListener counts status changes
type MetricsListener struct {
	fullyCached     atomic.Int64
	partiallyCached atomic.Int64
	notCached       atomic.Int64
}

// NewMetricsListener creates a new MetricsListener
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// OnCacheChange updates the counters
func (h *MetricsListener) OnCacheChange(path string, status domain.CacheStatus) {
	switch status {
	case domain.FullyCached:
		h.fullyCached.Add(1)
	case domain.PartiallyCached:
		h.partiallyCached.Add(1)
	default:
		h.notCached.Add(1)
	}
}

// GetMetrics returns current metrics
func (h *MetricsListener) GetMetrics() map[string]int64 {
	return map[string]int64{
		"fully_cached":     h.fullyCached.Load(),
		"partially_cached": h.partiallyCached.Load(),
		"not_cached":       h.notCached.Load(),
	}
}
