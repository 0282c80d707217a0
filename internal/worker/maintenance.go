package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is a named housekeeping action. It reports how many entries it
// touched so the runs can be logged meaningfully.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Maintenance periodically runs housekeeping tasks: sweeping expired rate
// limit buckets, evicting finished retry executions, and purging terminal
// notifications past retention.
type Maintenance struct {
	tasks    []Task
	logger   *zap.Logger
	interval time.Duration
}

func NewMaintenance(logger *zap.Logger, interval time.Duration, tasks ...Task) *Maintenance {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Maintenance{tasks: tasks, logger: logger, interval: interval}
}

// Run blocks until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("maintenance started", zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("maintenance stopping")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs every task once.
func (m *Maintenance) Sweep(ctx context.Context) {
	for _, t := range m.tasks {
		n, err := t.Run(ctx)
		if err != nil {
			m.logger.Error("maintenance task failed", zap.String("task", t.Name), zap.Error(err))
			continue
		}
		if n > 0 {
			m.logger.Debug("maintenance task ran", zap.String("task", t.Name), zap.Int("removed", n))
		}
	}
}
