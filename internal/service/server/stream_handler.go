package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/port"
	"github.com/vertextoedge/media-stream-cache/internal/service/cacher"
)

const (
	// CacheStatusHeader reports the cache status of a streamed resource
	CacheStatusHeader = "X-Cache-Status"

	streamChunkSize = 32 * 1024
)

// StreamHandler serves cached resources, scheduling missing ones
type StreamHandler struct {
	cache  CacheService
	fs     port.FileSystem
	logger *zap.Logger
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(cache CacheService, fs port.FileSystem, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		cache:  cache,
		fs:     fs,
		logger: logger,
	}
}

// HandleStream serves /stream/{path}. Complete files support range requests;
// partial files are streamed from the start while the download continues.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := strings.TrimPrefix(r.URL.Path, "/stream/")
	variant := r.URL.Query().Get("variant")

	e, err := h.cache.GetOrSchedule(p, variant)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			http.Error(w, "Invalid path", http.StatusBadRequest)
		case errors.Is(err, domain.ErrCacheFull):
			http.Error(w, "Download queue full", http.StatusServiceUnavailable)
		default:
			h.logger.Error("failed to schedule resource", zap.String("path", p), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", contentType(e.Path()))

	if e.IsComplete() && h.serveComplete(w, r, e) {
		return
	}
	h.serveGrowing(w, r, e)
}

// serveComplete serves the final file. Returns false when it vanished and
// the entry has to be streamed instead.
func (h *StreamHandler) serveComplete(w http.ResponseWriter, r *http.Request, e *cacher.Entry) bool {
	f, err := h.fs.OpenRead(e.Path(), false)
	if err != nil {
		h.logger.Warn("failed to open cached file", zap.String("path", e.Path()), zap.Error(err))
		return false
	}
	defer f.Close()

	w.Header().Set(CacheStatusHeader, domain.FullyCached.String())
	http.ServeContent(w, r, path.Base(e.Path()), e.LastUsed(), f)

	h.logger.Debug("file served from cache", zap.String("path", e.Path()))
	return true
}

func (h *StreamHandler) serveGrowing(w http.ResponseWriter, r *http.Request, e *cacher.Entry) {
	rc, err := h.cache.OpenReader(r.Context(), e)
	if err != nil {
		http.Error(w, "Resource not available", http.StatusServiceUnavailable)
		return
	}
	defer rc.Close()

	buf := make([]byte, streamChunkSize)

	// The first chunk decides between an error status and a stream
	n, err := rc.Read(buf)
	if n == 0 && err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debug("resource not available", zap.String("path", e.Path()), zap.Error(err))
		http.Error(w, "Resource not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set(CacheStatusHeader, domain.StatusOf(e.State()).String())
	if total := e.TotalLength(); total >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	flusher, _ := w.(http.Flusher)
	var sent int64
	for {
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			sent += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Warn("stream ended early",
					zap.String("path", e.Path()),
					zap.Int64("sent", sent),
					zap.Error(err))
			}
			return
		}
		n, err = rc.Read(buf)
	}
}

// HandleStatus serves /status/{path} without scheduling anything
func (h *StreamHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := strings.TrimPrefix(r.URL.Path, "/status/")
	if p == "" {
		http.Error(w, "Path required", http.StatusBadRequest)
		return
	}

	response := map[string]interface{}{
		"path":   p,
		"status": domain.NotCached.String(),
	}
	if e := h.cache.Entry(p); e != nil {
		info := e.Info()
		response["path"] = info.Path
		response["status"] = info.StatusName
		response["entry"] = info
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
