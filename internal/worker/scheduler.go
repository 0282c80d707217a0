package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/repository"
	"github.com/carepulse/notify/internal/service"
)

// Scheduler promotes notifications whose ScheduledAt has arrived from the
// repository into the delivery lanes.
type Scheduler struct {
	repo     repository.NotificationRepository
	svc      *service.NotificationService
	logger   *zap.Logger
	interval time.Duration
}

func NewScheduler(repo repository.NotificationRepository, svc *service.NotificationService, logger *zap.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{repo: repo, svc: svc, logger: logger, interval: interval}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Promote(ctx)
		}
	}
}

// Recover puts work stranded by a previous process back on the lanes. The
// lanes are memory only, so after a restart every row still queued,
// including retry-rescheduled ones, and every row caught mid-processing
// exists nowhere but the repository. Called once at startup, before the
// dispatcher begins draining. Returns how many notifications were recovered.
func (s *Scheduler) Recover(ctx context.Context) int {
	stranded, err := s.repo.FindRecoverable(ctx)
	if err != nil {
		s.logger.Error("failed to find recoverable notifications", zap.Error(err))
		return 0
	}

	recovered := 0
	for _, n := range stranded {
		// A pending retry keeps its remaining backoff across the restart.
		var dueAt time.Time
		if n.NextRetryAt != nil {
			dueAt = *n.NextRetryAt
		}
		if err := s.svc.EnqueueAt(ctx, n, dueAt); err != nil {
			s.logger.Error("failed to recover notification",
				zap.String("id", n.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("recovered stranded notifications", zap.Int("count", recovered))
	}
	return recovered
}

// Promote moves every due scheduled notification into its lane. Exported so
// tests can drive the worker without the ticker.
func (s *Scheduler) Promote(ctx context.Context) {
	due, err := s.repo.FindDueScheduled(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to find due scheduled notifications", zap.Error(err))
		return
	}

	for _, n := range due {
		if err := s.svc.Enqueue(ctx, n); err != nil {
			s.logger.Error("failed to enqueue scheduled notification",
				zap.String("id", n.ID), zap.Error(err))
			continue
		}
		s.logger.Debug("scheduled notification promoted", zap.String("id", n.ID))
	}
}
