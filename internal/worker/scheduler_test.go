package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/breaker"
	"github.com/carepulse/notify/internal/domain"
	"github.com/carepulse/notify/internal/event"
	"github.com/carepulse/notify/internal/queue"
	"github.com/carepulse/notify/internal/repository"
	"github.com/carepulse/notify/internal/service"
	"github.com/carepulse/notify/internal/worker"
)

func TestSchedulerPromotesDueNotifications(t *testing.T) {
	logger := zap.NewNop()
	repo := repository.NewMemoryRepository()
	q := queue.New(queue.Config{})
	svc := service.NewNotificationService(repo, q, breaker.NewRegistry(breaker.Config{}), event.NewBus(logger), logger)
	sched := worker.NewScheduler(repo, svc, logger, time.Second)

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	due := &domain.Notification{
		ID:          "due-1",
		Type:        domain.TypeAppointmentReminder,
		Channel:     domain.ChannelEmail,
		Recipient:   "patient@example.com",
		Content:     domain.Content{Text: "hello"},
		Priority:    domain.PriorityNormal,
		Status:      domain.StatusScheduled,
		MaxAttempts: 3,
		ScheduledAt: &past,
		CreatedAt:   time.Now().UTC(),
	}
	notDue := &domain.Notification{
		ID:          "future-1",
		Type:        domain.TypeAppointmentReminder,
		Channel:     domain.ChannelEmail,
		Recipient:   "patient@example.com",
		Content:     domain.Content{Text: "later"},
		Priority:    domain.PriorityNormal,
		Status:      domain.StatusScheduled,
		MaxAttempts: 3,
		ScheduledAt: &future,
		CreatedAt:   time.Now().UTC(),
	}
	for _, n := range []*domain.Notification{due, notDue} {
		if err := repo.Create(context.Background(), n); err != nil {
			t.Fatalf("create %s: %v", n.ID, err)
		}
	}

	sched.Promote(context.Background())

	got, err := repo.GetByID(context.Background(), "due-1")
	if err != nil {
		t.Fatalf("get due-1: %v", err)
	}
	if got.Status != domain.StatusQueued {
		t.Errorf("due status = %s, want %s", got.Status, domain.StatusQueued)
	}

	still, err := repo.GetByID(context.Background(), "future-1")
	if err != nil {
		t.Fatalf("get future-1: %v", err)
	}
	if still.Status != domain.StatusScheduled {
		t.Errorf("future status = %s, want %s", still.Status, domain.StatusScheduled)
	}

	if q.Len() != 1 {
		t.Errorf("queue depth = %d, want 1", q.Len())
	}
}

func TestSchedulerRecoversStrandedNotifications(t *testing.T) {
	logger := zap.NewNop()
	repo := repository.NewMemoryRepository()
	q := queue.New(queue.Config{})
	svc := service.NewNotificationService(repo, q, breaker.NewRegistry(breaker.Config{}), event.NewBus(logger), logger)
	sched := worker.NewScheduler(repo, svc, logger, time.Second)

	nextRetry := time.Now().UTC().Add(time.Hour)
	base := domain.Notification{
		Type:        domain.TypeAppointmentReminder,
		Channel:     domain.ChannelEmail,
		Recipient:   "patient@example.com",
		Content:     domain.Content{Text: "hello"},
		Priority:    domain.PriorityNormal,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}

	queued := base
	queued.ID = "queued-1"
	queued.Status = domain.StatusQueued

	// Rescheduled after a failed attempt: must come back with its backoff
	// intact rather than due immediately.
	retrying := base
	retrying.ID = "retrying-1"
	retrying.Status = domain.StatusQueued
	retrying.Attempts = 1
	retrying.NextRetryAt = &nextRetry

	// Caught mid-dispatch by the crash: nothing will ever finish it.
	orphaned := base
	orphaned.ID = "orphaned-1"
	orphaned.Status = domain.StatusProcessing

	delivered := base
	delivered.ID = "delivered-1"
	delivered.Status = domain.StatusDelivered

	for _, n := range []*domain.Notification{&queued, &retrying, &orphaned, &delivered} {
		if err := repo.Create(context.Background(), n); err != nil {
			t.Fatalf("create %s: %v", n.ID, err)
		}
	}

	if got := sched.Recover(context.Background()); got != 3 {
		t.Fatalf("recovered = %d, want 3", got)
	}
	if q.Len() != 3 {
		t.Fatalf("queue depth = %d, want 3", q.Len())
	}

	back, err := repo.GetByID(context.Background(), "orphaned-1")
	if err != nil {
		t.Fatalf("get orphaned-1: %v", err)
	}
	if back.Status != domain.StatusQueued {
		t.Errorf("orphaned status = %s, want %s", back.Status, domain.StatusQueued)
	}

	// Only the immediately-due items may pop now; the pending retry stays
	// put until its next_retry_at.
	due := q.PopDue(time.Now(), 10)
	if len(due) != 2 {
		t.Fatalf("due items = %d, want 2 (pending retry is future-due)", len(due))
	}
	for _, it := range due {
		if it.NotificationID == "retrying-1" {
			t.Error("pending retry dispatched before its next_retry_at")
		}
	}
}

func TestMaintenanceRunsAllTasks(t *testing.T) {
	logger := zap.NewNop()

	var ran []string
	m := worker.NewMaintenance(logger, time.Minute,
		worker.Task{Name: "a", Run: func(context.Context) (int, error) {
			ran = append(ran, "a")
			return 2, nil
		}},
		worker.Task{Name: "b", Run: func(context.Context) (int, error) {
			ran = append(ran, "b")
			return 0, errors.New("boom")
		}},
		worker.Task{Name: "c", Run: func(context.Context) (int, error) {
			ran = append(ran, "c")
			return 0, nil
		}},
	)

	m.Sweep(context.Background())

	if len(ran) != 3 {
		t.Fatalf("tasks ran = %v, want all three (a failure must not stop the sweep)", ran)
	}
}
