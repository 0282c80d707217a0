package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/api"
	"github.com/carepulse/notify/internal/api/handler"
	"github.com/carepulse/notify/internal/api/middleware"
	"github.com/carepulse/notify/internal/breaker"
	"github.com/carepulse/notify/internal/domain"
	"github.com/carepulse/notify/internal/event"
	"github.com/carepulse/notify/internal/queue"
	"github.com/carepulse/notify/internal/repository"
	"github.com/carepulse/notify/internal/retry"
	"github.com/carepulse/notify/internal/service"
)

func newTestRouter(t *testing.T, checks map[string]handler.Check) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	svc := service.NewNotificationService(
		repository.NewMemoryRepository(),
		queue.New(queue.Config{}),
		breaker.NewRegistry(breaker.Config{}),
		event.NewBus(logger),
		logger,
	)
	health := handler.NewHealthHandler("test", checks)
	return api.NewRouter(svc, retry.NewRegistry(), retry.NewExecutionStore(time.Minute), prometheus.NewRegistry(), health, logger)
}

const validBody = `{
	"type": "appointment_reminder",
	"channel": "email",
	"recipient": "patient@example.com",
	"content": {"subject": "Reminder", "text": "Tomorrow at 9:00"},
	"priority": "normal"
}`

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateNotification(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/notifications", validBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}

	var n domain.Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &n); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if n.ID == "" {
		t.Error("response has no id")
	}
	if n.Status != domain.StatusQueued {
		t.Errorf("status = %s, want queued", n.Status)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("correlation id header missing")
	}
}

func TestCreateNotification_Validation(t *testing.T) {
	h := newTestRouter(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"invalid channel", `{"channel":"fax","recipient":"x","content":{"text":"y"},"priority":"normal"}`, http.StatusUnprocessableEntity},
		{"invalid priority", `{"channel":"email","recipient":"x","content":{"text":"y"},"priority":"whenever"}`, http.StatusUnprocessableEntity},
		{"missing recipient", `{"channel":"email","content":{"text":"y"},"priority":"normal"}`, http.StatusUnprocessableEntity},
		{"empty content", `{"channel":"email","recipient":"x","content":{},"priority":"normal"}`, http.StatusUnprocessableEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/v1/notifications", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestGetAndCancelNotification(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/notifications", validBody)
	var n domain.Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &n); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/notifications/"+n.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/notifications/"+n.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", rec.Code)
	}

	// Cancelling twice is a conflict.
	rec = doRequest(t, h, http.MethodDelete, "/api/v1/notifications/"+n.ID, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/notifications/unknown-id", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", rec.Code)
	}
}

func TestListNotifications(t *testing.T) {
	h := newTestRouter(t, nil)

	for i := 0; i < 3; i++ {
		doRequest(t, h, http.MethodPost, "/api/v1/notifications", validBody)
	}

	rec := doRequest(t, h, http.MethodGet, "/api/v1/notifications?status=queued&limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var page struct {
		Data  []domain.Notification `json:"data"`
		Total int                   `json:"total"`
		Limit int                   `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("total = %d, want 3", page.Total)
	}
	if len(page.Data) != 2 {
		t.Errorf("page size = %d, want 2", len(page.Data))
	}
}

func TestLaneControlEndpoints(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/lanes/critical/pause", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("pause status = %d, want 204", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/lanes/critical/resume", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("resume status = %d, want 204", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/lanes/bogus/pause", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bogus lane status = %d, want 422", rec.Code)
	}
}

func TestStatsAndStrategies(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", rec.Code)
	}
	var stats service.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats.Lanes) != len(domain.Priorities) {
		t.Errorf("lanes = %d, want %d", len(stats.Lanes), len(domain.Priorities))
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/strategies", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("strategies status = %d, want 200", rec.Code)
	}
	var views []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode strategies: %v", err)
	}
	if len(views) == 0 {
		t.Error("expected the built-in strategies to be listed")
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/executions/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown execution status = %d, want 404", rec.Code)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doRequest(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
}

func TestHealthReportsDegradedDependency(t *testing.T) {
	h := newTestRouter(t, map[string]handler.Check{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := doRequest(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want 503", rec.Code)
	}

	var body struct {
		Status  string            `json:"status"`
		Service string            `json:"service"`
		Checks  map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Checks["database"] != "ok" {
		t.Errorf("database check = %q, want ok", body.Checks["database"])
	}
	if body.Checks["redis"] != "connection refused" {
		t.Errorf("redis check = %q, want the probe error", body.Checks["redis"])
	}
}

func TestCorrelationIDValidated(t *testing.T) {
	h := newTestRouter(t, nil)

	valid := "0f2a7e6e-9c44-4c57-b7a0-1f6b0f0f5d3a"
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set(middleware.CorrelationHeader, valid)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(middleware.CorrelationHeader); got != valid {
		t.Errorf("valid correlation id not echoed: got %q", got)
	}

	// Anything that does not parse as a UUID is replaced, not trusted.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set(middleware.CorrelationHeader, "<script>alert(1)</script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	got := rec.Header().Get(middleware.CorrelationHeader)
	if got == "" || got == "<script>alert(1)</script>" {
		t.Errorf("untrusted correlation id echoed back: got %q", got)
	}
}
