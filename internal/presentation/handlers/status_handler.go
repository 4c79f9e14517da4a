package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bimakw/log-harvester/internal/application/services"
	"github.com/bimakw/log-harvester/internal/infrastructure/rpc"
)

// ProgressSource reports the live state of a harvest run
type ProgressSource interface {
	Progress() services.FetchProgress
}

// EndpointSource reports the health of the endpoint pool
type EndpointSource interface {
	HealthSnapshot() []rpc.EndpointStatus
}

// HealthChecker defines the interface for health checking components
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatusHandler serves the harvester's status API
type StatusHandler struct {
	progress  ProgressSource
	endpoints EndpointSource
	cache     HealthChecker
}

// NewStatusHandler creates a status handler. cache may be nil when the
// capability cache is not configured.
func NewStatusHandler(progress ProgressSource, endpoints EndpointSource, cache HealthChecker) *StatusHandler {
	return &StatusHandler{
		progress:  progress,
		endpoints: endpoints,
		cache:     cache,
	}
}

// Progress handles GET /status/progress
func (h *StatusHandler) Progress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.progress.Progress())
}

// Endpoints handles GET /status/endpoints
func (h *StatusHandler) Endpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.endpoints.HealthSnapshot())
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Health handles GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  make(map[string]string),
	}

	// An empty pool means nothing can be fetched
	available := 0
	for _, s := range h.endpoints.HealthSnapshot() {
		if s.Endpoint.Enabled {
			available++
		}
	}
	if available == 0 {
		response.Status = "unhealthy"
		response.Services["endpoints"] = "unhealthy: no enabled endpoints"
	} else {
		response.Services["endpoints"] = "healthy"
	}

	if h.cache != nil {
		if err := h.cache.HealthCheck(ctx); err != nil {
			if response.Status == "healthy" {
				response.Status = "degraded"
			}
			response.Services["cache"] = "unhealthy: " + err.Error()
		} else {
			response.Services["cache"] = "healthy"
		}
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// Live handles GET /live
func (h *StatusHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("alive"))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
