// Package health serves the gateway's liveness and readiness endpoints.
package health

import (
	"encoding/json"
	"net/http"

	"github.com/digestgate/digestgate/internal/upstream"
)

// Handler provides HTTP health check endpoints over the upstream registry.
type Handler struct {
	registry      *upstream.Registry
	version       string
	livenessPath  string
	readinessPath string
	readinessMode string // "any_healthy", "default_healthy", "all_healthy"
}

// NewHandler creates a health check handler.
func NewHandler(registry *upstream.Registry, version, livenessPath, readinessPath, readinessMode string) *Handler {
	return &Handler{
		registry:      registry,
		version:       version,
		livenessPath:  livenessPath,
		readinessPath: readinessPath,
		readinessMode: readinessMode,
	}
}

// ServeHTTP routes to the appropriate health endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case h.livenessPath:
		h.handleLiveness(w, r)
	case h.readinessPath:
		h.handleReadiness(w, r)
	default:
		http.NotFound(w, r)
	}
}

// LivenessResponse is the JSON response for the liveness endpoint.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status           string `json:"status"`
	HealthyUpstreams int    `json:"healthy_upstreams"`
	TotalUpstreams   int    `json:"total_upstreams"`
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(LivenessResponse{
		Status:  "ok",
		Version: h.version,
	})
}

// Ready reports whether the gateway should accept traffic, per the
// configured readiness mode.
func (h *Handler) Ready() bool {
	all := h.registry.All()
	healthyCount := 0
	for _, u := range all {
		if u.Healthy() {
			healthyCount++
		}
	}

	switch h.readinessMode {
	case "default_healthy":
		def, ok := h.registry.Default()
		return ok && def.Healthy()
	case "all_healthy":
		return healthyCount == len(all) && len(all) > 0
	default: // "any_healthy"
		return healthyCount > 0
	}
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()
	healthyCount := 0
	for _, u := range all {
		if u.Healthy() {
			healthyCount++
		}
	}

	w.Header().Set("Content-Type", "application/json")

	resp := ReadinessResponse{
		HealthyUpstreams: healthyCount,
		TotalUpstreams:   len(all),
	}
	if h.Ready() {
		resp.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		resp.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
