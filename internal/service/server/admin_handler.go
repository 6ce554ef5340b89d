package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// AdminHandler handles operator requests
type AdminHandler struct {
	cache   CacheService
	monitor ConnectivitySetter
	logger  *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. monitor may be nil.
func NewAdminHandler(cache CacheService, monitor ConnectivitySetter, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		cache:   cache,
		monitor: monitor,
		logger:  logger,
	}
}

type stopLoadingRequest struct {
	Keep []string `json:"keep"`
}

type connectivityRequest struct {
	Connected *bool `json:"connected"`
}

// HandleStopLoading clears the download queue, keeping the current download
// when it is one of the requested paths
func (h *AdminHandler) HandleStopLoading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req stopLoadingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	h.cache.StopAllLoading(req.Keep...)
	h.logger.Info("stop loading requested", zap.Strings("keep", req.Keep))

	stats := h.cache.Stats()
	writeJSON(w, map[string]interface{}{
		"queued":       stats.Queued,
		"current_path": stats.CurrentPath,
	})
}

// HandleConnectivity reports or overrides the connectivity state
func (h *AdminHandler) HandleConnectivity(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		http.Error(w, "Connectivity monitor not configured", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req connectivityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Connected == nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		h.monitor.Set(*req.Connected)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]bool{"connected": h.monitor.Connected()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
