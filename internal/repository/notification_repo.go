package repository

import (
	"context"
	"time"

	"github.com/carepulse/notify/internal/domain"
)

// NotificationRepository defines all persistence operations for
// notifications. The core works against either implementation: the memory
// store for single-process deployments (entries evicted by TTL sweep) or the
// PostgreSQL store when durability is configured.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error)

	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	MarkSent(ctx context.Context, id, providerMsgID string, sentAt time.Time, delivered bool) error
	MarkFailed(ctx context.Context, id string, attempts int, derr domain.DeliveryError) error

	// ScheduleRetry records a failed attempt and returns the notification
	// to the queued state with the given next-due time.
	ScheduleRetry(ctx context.Context, id string, attempts int, nextRetry time.Time, derr domain.DeliveryError) error

	Cancel(ctx context.Context, id string) error

	// FindDueScheduled returns scheduled notifications whose scheduled_at
	// has passed, for the scheduler worker to enqueue.
	FindDueScheduled(ctx context.Context, now time.Time) ([]*domain.Notification, error)

	// FindRecoverable returns notifications stranded by a previous process:
	// everything still queued or processing. The lanes are memory only, so
	// after a restart these rows exist nowhere but the repository; rows
	// caught mid-processing are orphans because no dispatch survives a
	// restart.
	FindRecoverable(ctx context.Context) ([]*domain.Notification, error)

	// DeleteTerminalBefore evicts delivered/failed/cancelled notifications
	// last updated before the cutoff. Returns how many were removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}
