package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/api/handler"
	apimw "github.com/carepulse/notify/internal/api/middleware"
	"github.com/carepulse/notify/internal/retry"
	"github.com/carepulse/notify/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.NotificationService,
	strategies *retry.Registry,
	executions *retry.ExecutionStore,
	reg prometheus.Gatherer,
	health *handler.HealthHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(svc, logger)
	oh := handler.NewOpsHandler(svc, strategies, executions, logger)

	// --- routes ---
	r.Get("/health", health.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/notifications", nh.Create)
		r.Get("/notifications", nh.List)
		r.Get("/notifications/{id}", nh.GetByID)
		r.Delete("/notifications/{id}", nh.Cancel)

		// Lane control for incident response: pausing a lane stops its
		// dispatch without rejecting new submissions.
		r.Post("/lanes/{priority}/pause", oh.PauseLane)
		r.Post("/lanes/{priority}/resume", oh.ResumeLane)

		r.Get("/stats", oh.Stats)
		r.Get("/strategies", oh.ListStrategies)
		r.Get("/executions/{id}", oh.GetExecution)
	})

	return r
}
