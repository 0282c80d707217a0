package handler

import (
	"context"
	"net/http"
	"time"
)

// Check probes one backing dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthHandler serves the health endpoint with per-dependency probes, so
// orchestrators and on-call dashboards see which backend is degraded rather
// than a bare 503.
type HealthHandler struct {
	version string
	started time.Time
	checks  map[string]Check
}

func NewHealthHandler(version string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{
		version: version,
		started: time.Now(),
		checks:  checks,
	}
}

// Health handles GET /health
//
// @Summary  Health probe with dependency checks
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]any
// @Failure  503  {object}  map[string]any
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	overall := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			overall = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	respondJSON(w, status, map[string]any{
		"status":  overall,
		"service": "notify",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"checks":  deps,
	})
}
