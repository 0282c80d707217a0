package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/breaker"
	"github.com/carepulse/notify/internal/domain"
	"github.com/carepulse/notify/internal/event"
	"github.com/carepulse/notify/internal/queue"
	"github.com/carepulse/notify/internal/repository"
)

// NotificationService coordinates the repository and the priority queue.
// Business rules (validation, cancel state machine, lane control) live here;
// HTTP handlers and the dispatcher depend on this service, not on each other.
type NotificationService struct {
	repo        repository.NotificationRepository
	q           *queue.Set
	breakers    *breaker.Registry
	bus         *event.Bus
	logger      *zap.Logger
	maxAttempts int
}

// DefaultMaxAttempts is applied when a submission does not set max_attempts.
const DefaultMaxAttempts = 3

func NewNotificationService(
	repo repository.NotificationRepository,
	q *queue.Set,
	breakers *breaker.Registry,
	bus *event.Bus,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		repo:        repo,
		q:           q,
		breakers:    breakers,
		bus:         bus,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
	}
}

// Submit validates, persists, and enqueues a notification. It returns
// immediately with the stored notification regardless of eventual delivery
// outcome; terminal failure is observable only via status query or events.
func (s *NotificationService) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	n := s.build(req)
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	// Future-dated notifications bypass the queue until the scheduler
	// worker picks them up.
	if n.Status == domain.StatusScheduled {
		return n, nil
	}

	if err := s.enqueue(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Enqueue places an existing notification on its lane and moves it to
// queued. Used by Submit and by the scheduler worker for due items.
func (s *NotificationService) Enqueue(ctx context.Context, n *domain.Notification) error {
	return s.EnqueueAt(ctx, n, time.Time{})
}

// EnqueueAt is Enqueue with an explicit due time, zero meaning immediately.
// Restart recovery uses it to put retry-rescheduled rows back on their lanes
// without collapsing the remaining backoff.
func (s *NotificationService) EnqueueAt(ctx context.Context, n *domain.Notification, dueAt time.Time) error {
	it := queue.Item{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		DueAt:          dueAt,
	}
	if err := s.q.Enqueue(it); err != nil {
		return err
	}
	if n.Status != domain.StatusQueued {
		if err := s.repo.UpdateStatus(ctx, n.ID, domain.StatusQueued); err != nil {
			s.logger.Error("failed to mark notification queued",
				zap.String("id", n.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *NotificationService) enqueue(ctx context.Context, n *domain.Notification) error {
	if err := s.Enqueue(ctx, n); err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			// Keep the record, but make the rejection visible: the caller
			// got an error, so the notification must never dispatch.
			if cerr := s.repo.Cancel(ctx, n.ID); cerr != nil {
				s.logger.Error("failed to cancel rejected notification",
					zap.String("id", n.ID), zap.Error(cerr))
			}
		}
		return err
	}
	return nil
}

func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *NotificationService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error) {
	return s.repo.List(ctx, filter)
}

// Cancel marks a notification as cancelled if it is still cancellable.
// Cancelling one that already reached a later state is rejected; the
// dispatcher independently skips cancelled items that are still on a lane.
func (s *NotificationService) Cancel(ctx context.Context, id string) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch n.Status {
	case domain.StatusCancelled:
		return domain.ErrAlreadyCancelled
	case domain.StatusProcessing, domain.StatusSent, domain.StatusDelivered, domain.StatusFailed:
		return domain.ErrNotCancellable
	}

	if err := s.repo.Cancel(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(event.Event{
		Topic:          event.TopicCancelled,
		NotificationID: id,
		Channel:        n.Channel,
	})
	return nil
}

// PauseLane stops draining the given priority lane.
func (s *NotificationService) PauseLane(p domain.Priority) error {
	return s.q.Pause(p)
}

// ResumeLane re-enables a paused lane.
func (s *NotificationService) ResumeLane(p domain.Priority) error {
	return s.q.Resume(p)
}

// Stats is the aggregated observability snapshot served by the API.
type Stats struct {
	Lanes    []queue.LaneStats `json:"lanes"`
	Breakers []breaker.Stats   `json:"breakers"`
}

func (s *NotificationService) Stats() Stats {
	return Stats{
		Lanes:    s.q.Snapshot(),
		Breakers: s.breakers.Snapshot(),
	}
}

func (s *NotificationService) build(req domain.SubmitRequest) *domain.Notification {
	now := time.Now().UTC()

	status := domain.StatusQueued
	if req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		status = domain.StatusScheduled
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.maxAttempts
	}
	notifType := req.Type
	if notifType == "" {
		notifType = domain.TypeGeneric
	}

	return &domain.Notification{
		ID:          uuid.New().String(),
		Type:        notifType,
		Channel:     req.Channel,
		Recipient:   req.Recipient,
		Content:     req.Content,
		Priority:    req.Priority,
		Status:      status,
		MaxAttempts: maxAttempts,
		ScheduledAt: req.ScheduledAt,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
