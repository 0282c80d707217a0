package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carepulse/notify/internal/domain"
)

// MemoryRepository keeps notifications in process memory. It is the default
// backend when no database is configured and doubles as the test double; the
// maintenance worker bounds its growth through DeleteTerminalBefore.
type MemoryRepository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{notifications: make(map[string]*domain.Notification)}
}

func (m *MemoryRepository) Create(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := cloneNotification(n)
	m.notifications[n.ID] = clone
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (m *MemoryRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*domain.Notification
	for _, n := range m.notifications {
		if f.Status != nil && n.Status != *f.Status {
			continue
		}
		if f.Channel != nil && n.Channel != *f.Channel {
			continue
		}
		if f.From != nil && n.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && n.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, cloneNotification(n))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Limit > 0 {
		start := (f.Page - 1) * f.Limit
		if start < 0 {
			start = 0
		}
		if start >= total {
			return nil, total, nil
		}
		end := start + f.Limit
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, id string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = status
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) MarkSent(_ context.Context, id, providerMsgID string, sentAt time.Time, delivered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusSent
	n.ProviderMsgID = &providerMsgID
	n.SentAt = &sentAt
	if delivered {
		n.Status = domain.StatusDelivered
		n.DeliveredAt = &sentAt
	}
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) MarkFailed(_ context.Context, id string, attempts int, derr domain.DeliveryError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusFailed
	n.Attempts = attempts
	n.Errors = append(n.Errors, derr)
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) ScheduleRetry(_ context.Context, id string, attempts int, nextRetry time.Time, derr domain.DeliveryError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusQueued
	n.Attempts = attempts
	n.NextRetryAt = &nextRetry
	n.Errors = append(n.Errors, derr)
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusCancelled
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) FindDueScheduled(_ context.Context, now time.Time) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []*domain.Notification
	for _, n := range m.notifications {
		if n.Status == domain.StatusScheduled && n.ScheduledAt != nil && !n.ScheduledAt.After(now) {
			due = append(due, cloneNotification(n))
		}
	}
	return due, nil
}

func (m *MemoryRepository) FindRecoverable(_ context.Context) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stranded []*domain.Notification
	for _, n := range m.notifications {
		if n.Status == domain.StatusQueued || n.Status == domain.StatusProcessing {
			stranded = append(stranded, cloneNotification(n))
		}
	}
	return stranded, nil
}

func (m *MemoryRepository) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, n := range m.notifications {
		if n.Status.Terminal() && n.UpdatedAt.Before(cutoff) {
			delete(m.notifications, id)
			removed++
		}
	}
	return removed, nil
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	clone := *n
	clone.Errors = append([]domain.DeliveryError(nil), n.Errors...)
	clone.Tags = append([]string(nil), n.Tags...)
	return &clone
}

var _ NotificationRepository = (*MemoryRepository)(nil)
