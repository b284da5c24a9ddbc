package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/pulse/pkg/metrics"
	"github.com/okian/pulse/pkg/protect"
)

// HealthDependencies is what the health endpoints read.
type HealthDependencies interface {
	Circuits() []protect.Snapshot
	Ping(ctx context.Context) error
}

// HealthHandler serves metrics, readiness and breaker state.
type HealthHandler struct {
	deps    HealthDependencies
	metrics http.Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps HealthDependencies) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

// HandleMetrics serves the Prometheus scrape from the custom registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

// HandleReady handles GET /readyz: 200 when the store answers.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "unavailable", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type circuitsResponse struct {
	Circuits []protect.Snapshot `json:"circuits"`
}

// HandleCircuits handles GET /circuits.
func (h *HealthHandler) HandleCircuits(w http.ResponseWriter, _ *http.Request) {
	list := h.deps.Circuits()
	if list == nil {
		list = []protect.Snapshot{}
	}
	writeJSON(w, http.StatusOK, circuitsResponse{Circuits: list})
}
