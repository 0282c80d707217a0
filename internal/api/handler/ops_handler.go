package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/domain"
	"github.com/carepulse/notify/internal/retry"
	"github.com/carepulse/notify/internal/service"
)

// OpsHandler exposes the operational surface: lane control, pipeline stats,
// retry strategy inspection, and execution lookup.
type OpsHandler struct {
	svc        *service.NotificationService
	strategies *retry.Registry
	executions *retry.ExecutionStore
	logger     *zap.Logger
}

func NewOpsHandler(svc *service.NotificationService, strategies *retry.Registry, executions *retry.ExecutionStore, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{svc: svc, strategies: strategies, executions: executions, logger: logger}
}

// PauseLane handles POST /api/v1/lanes/{priority}/pause
//
// @Summary  Pause a delivery lane
// @Tags     lanes
// @Param    priority  path  string  true  "Lane priority"
// @Success  204
// @Failure  422  {object}  map[string]string
// @Router   /api/v1/lanes/{priority}/pause [post]
func (h *OpsHandler) PauseLane(w http.ResponseWriter, r *http.Request) {
	p := domain.Priority(chi.URLParam(r, "priority"))
	if err := h.svc.PauseLane(p); err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("lane paused", zap.String("priority", string(p)))
	w.WriteHeader(http.StatusNoContent)
}

// ResumeLane handles POST /api/v1/lanes/{priority}/resume
//
// @Summary  Resume a paused delivery lane
// @Tags     lanes
// @Param    priority  path  string  true  "Lane priority"
// @Success  204
// @Failure  422  {object}  map[string]string
// @Router   /api/v1/lanes/{priority}/resume [post]
func (h *OpsHandler) ResumeLane(w http.ResponseWriter, r *http.Request) {
	p := domain.Priority(chi.URLParam(r, "priority"))
	if err := h.svc.ResumeLane(p); err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("lane resumed", zap.String("priority", string(p)))
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/stats
//
// @Summary  Lane depths and breaker states as JSON
// @Tags     stats
// @Produce  json
// @Success  200  {object}  service.Stats
// @Router   /api/v1/stats [get]
func (h *OpsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Stats())
}

// strategyView is the JSON shape of a retry strategy; the Strategy struct
// itself carries function hooks that cannot be marshalled.
type strategyView struct {
	Name     string        `json:"name"`
	Attempts int           `json:"attempts"`
	Delay    time.Duration `json:"delay"`
	Backoff  string        `json:"backoff"`
	Jitter   bool          `json:"jitter"`
	MaxDelay time.Duration `json:"max_delay,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// ListStrategies handles GET /api/v1/strategies
//
// @Summary  List registered retry strategies
// @Tags     strategies
// @Produce  json
// @Success  200  {array}  strategyView
// @Router   /api/v1/strategies [get]
func (h *OpsHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	all := h.strategies.List()
	views := make([]strategyView, 0, len(all))
	for _, s := range all {
		views = append(views, strategyView{
			Name:     s.Name,
			Attempts: s.Attempts,
			Delay:    s.Delay,
			Backoff:  string(s.Backoff),
			Jitter:   s.Jitter,
			MaxDelay: s.MaxDelay,
			Timeout:  s.Timeout,
		})
	}
	respondJSON(w, http.StatusOK, views)
}

// GetExecution handles GET /api/v1/executions/{id}
//
// @Summary  Inspect a retry execution
// @Tags     strategies
// @Produce  json
// @Param    id   path      string  true  "Execution UUID"
// @Success  200  {object}  retry.Execution
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/executions/{id} [get]
func (h *OpsHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, ok := h.executions.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "execution not found")
		return
	}
	respondJSON(w, http.StatusOK, e)
}
