package service_test

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
)

func newService(qcfg queue.Config) (*service.NotificationService, *repository.MemoryRepository, *queue.Set) {
	repo := repository.NewMemoryRepository()
	q := queue.New(qcfg)
	svc := service.NewNotificationService(repo, q, breaker.NewRegistry(breaker.Config{}), event.NewBus(zap.NewNop()), zap.NewNop())
	return svc, repo, q
}

var validReq = domain.SubmitRequest{
	Type:      domain.TypeAppointmentReminder,
	Channel:   domain.ChannelSMS,
	Recipient: "+15551234567",
	Content:   domain.Content{Text: "Your appointment is tomorrow at 9:00"},
	Priority:  domain.PriorityNormal,
}

func TestNotificationService_Submit(t *testing.T) {
	svc, _, q := newService(queue.Config{})
	ctx := context.Background()

	n, err := svc.Submit(ctx, validReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.ID == "" {
		t.Fatal("expected a non-empty ID")
	}
	if n.Status != domain.StatusQueued {
		t.Fatalf("expected status=queued, got %s", n.Status)
	}
	if n.MaxAttempts != service.DefaultMaxAttempts {
		t.Fatalf("expected default max attempts %d, got %d", service.DefaultMaxAttempts, n.MaxAttempts)
	}
	if q.Len() != 1 {
		t.Fatal("expected item to be enqueued")
	}
}

func TestNotificationService_Submit_InvalidRequest(t *testing.T) {
	svc, _, _ := newService(queue.Config{})

	bad := validReq
	bad.Channel = "fax"
	_, err := svc.Submit(context.Background(), bad)
	if err != domain.ErrInvalidChannel {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestNotificationService_Submit_ScheduledSkipsQueue(t *testing.T) {
	svc, _, q := newService(queue.Config{})

	future := time.Now().UTC().Add(time.Hour)
	req := validReq
	req.ScheduledAt = &future

	n, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != domain.StatusScheduled {
		t.Fatalf("expected status=scheduled, got %s", n.Status)
	}
	if q.Len() != 0 {
		t.Fatal("scheduled notification must not be enqueued on submit")
	}
}

func TestNotificationService_Submit_QueueFullCancelsRecord(t *testing.T) {
	svc, repo, _ := newService(queue.Config{
		LaneCapacity: map[domain.Priority]int{domain.PriorityNormal: 1},
	})
	ctx := context.Background()

	if _, err := svc.Submit(ctx, validReq); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	second, err := svc.Submit(ctx, validReq)
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if second != nil {
		t.Fatal("expected no notification returned on rejection")
	}

	// The rejected submission was persisted before the lane rejected it;
	// it must end up cancelled so it can never dispatch.
	list, _, err := repo.List(ctx, domain.ListFilter{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var cancelled int
	for _, n := range list {
		if n.Status == domain.StatusCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Fatalf("expected exactly one cancelled record, got %d", cancelled)
	}
}

func TestNotificationService_Cancel_States(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		status      domain.Status
		expectedErr error
	}{
		{"queued can be cancelled", domain.StatusQueued, nil},
		{"scheduled can be cancelled", domain.StatusScheduled, nil},
		{"already cancelled", domain.StatusCancelled, domain.ErrAlreadyCancelled},
		{"processing cannot be cancelled", domain.StatusProcessing, domain.ErrNotCancellable},
		{"sent cannot be cancelled", domain.StatusSent, domain.ErrNotCancellable},
		{"delivered cannot be cancelled", domain.StatusDelivered, domain.ErrNotCancellable},
		{"failed cannot be cancelled", domain.StatusFailed, domain.ErrNotCancellable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, _ := newService(queue.Config{})

			n, err := svc.Submit(ctx, validReq)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			_ = repo.UpdateStatus(ctx, n.ID, tc.status)

			err = svc.Cancel(ctx, n.ID)
			if !errors.Is(err, tc.expectedErr) {
				t.Fatalf("expected %v, got %v", tc.expectedErr, err)
			}
		})
	}
}

func TestNotificationService_Cancel_NotFound(t *testing.T) {
	svc, _, _ := newService(queue.Config{})
	err := svc.Cancel(context.Background(), "nonexistent-id")
	if err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotificationService_LaneControl(t *testing.T) {
	svc, _, q := newService(queue.Config{})

	if err := svc.PauseLane(domain.PriorityNormal); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := svc.Submit(context.Background(), validReq); err != nil {
		t.Fatalf("submit to paused lane: %v", err)
	}
	if got := q.PopDue(time.Now(), 10); len(got) != 0 {
		t.Fatal("paused lane must not release items")
	}

	if err := svc.ResumeLane(domain.PriorityNormal); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := q.PopDue(time.Now(), 10); len(got) != 1 {
		t.Fatal("resumed lane must release its items")
	}

	if err := svc.PauseLane("mystery"); !errors.Is(err, domain.ErrUnknownLane) {
		t.Fatalf("expected ErrUnknownLane, got %v", err)
	}
}

func TestNotificationService_Stats(t *testing.T) {
	svc, _, _ := newService(queue.Config{})

	if _, err := svc.Submit(context.Background(), validReq); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stats := svc.Stats()
	if len(stats.Lanes) != len(domain.Priorities) {
		t.Fatalf("expected %d lane entries, got %d", len(domain.Priorities), len(stats.Lanes))
	}
	var depth int
	for _, l := range stats.Lanes {
		depth += l.Depth
	}
	if depth != 1 {
		t.Fatalf("expected total depth 1, got %d", depth)
	}
}
