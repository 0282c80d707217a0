package queue_test

import (
	"errors"
	"testing"
	"time"

	"github.com/carepulse/notify/internal/domain"
	"github.com/carepulse/notify/internal/queue"
)

func item(id string, p domain.Priority) queue.Item {
	return queue.Item{NotificationID: id, Channel: domain.ChannelSMS, Priority: p}
}

func TestSet_StrictPriorityOrder(t *testing.T) {
	q := queue.New(queue.Config{})
	now := time.Now()

	// Deliberately enqueue in reverse priority order.
	_ = q.Enqueue(item("low-1", domain.PriorityLow))
	_ = q.Enqueue(item("low-2", domain.PriorityLow))
	_ = q.Enqueue(item("normal-1", domain.PriorityNormal))
	_ = q.Enqueue(item("critical-1", domain.PriorityCritical))
	_ = q.Enqueue(item("critical-2", domain.PriorityCritical))

	got := q.PopDue(now, 10)
	want := []string{"critical-1", "critical-2", "normal-1", "low-1", "low-2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].NotificationID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].NotificationID)
		}
	}
}

func TestSet_ScheduledItemsComeOutInDueOrder(t *testing.T) {
	q := queue.New(queue.Config{})
	base := time.Now()

	_ = q.Enqueue(queue.Item{NotificationID: "later", Priority: domain.PriorityNormal, DueAt: base.Add(2 * time.Second)})
	_ = q.Enqueue(queue.Item{NotificationID: "sooner", Priority: domain.PriorityNormal, DueAt: base.Add(time.Second)})
	_ = q.Enqueue(queue.Item{NotificationID: "immediate", Priority: domain.PriorityNormal})

	// Only the undated item is due right now.
	got := q.PopDue(base, 10)
	if len(got) != 1 || got[0].NotificationID != "immediate" {
		t.Fatalf("expected only the immediate item, got %v", got)
	}

	got = q.PopDue(base.Add(3*time.Second), 10)
	if len(got) != 2 || got[0].NotificationID != "sooner" || got[1].NotificationID != "later" {
		t.Fatalf("expected due order [sooner later], got %v", got)
	}
}

func TestSet_PausedLaneIsSkipped(t *testing.T) {
	q := queue.New(queue.Config{})
	now := time.Now()

	_ = q.Enqueue(item("crit", domain.PriorityCritical))
	_ = q.Enqueue(item("norm", domain.PriorityNormal))

	if err := q.Pause(domain.PriorityCritical); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := q.PopDue(now, 10)
	if len(got) != 1 || got[0].NotificationID != "norm" {
		t.Fatalf("paused lane leaked items: %v", got)
	}

	if err := q.Resume(domain.PriorityCritical); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got = q.PopDue(now, 10)
	if len(got) != 1 || got[0].NotificationID != "crit" {
		t.Fatalf("expected critical item after resume, got %v", got)
	}
}

func TestSet_LaneCapacity(t *testing.T) {
	q := queue.New(queue.Config{
		LaneCapacity: map[domain.Priority]int{domain.PriorityLow: 5},
	})

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(item("n", domain.PriorityLow)); err != nil {
			t.Fatalf("enqueue %d: %v", i+1, err)
		}
	}
	if err := q.Enqueue(item("overflow", domain.PriorityLow)); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull on 6th enqueue, got %v", err)
	}

	// Draining one item frees capacity for a new submission.
	_ = q.PopDue(time.Now(), 1)
	if err := q.Enqueue(item("after-drain", domain.PriorityLow)); err != nil {
		t.Fatalf("expected enqueue to succeed after drain: %v", err)
	}
}

func TestSet_AggregateCapacity(t *testing.T) {
	q := queue.New(queue.Config{AggregateCapacity: 3})

	_ = q.Enqueue(item("1", domain.PriorityCritical))
	_ = q.Enqueue(item("2", domain.PriorityNormal))
	_ = q.Enqueue(item("3", domain.PriorityLow))

	if err := q.Enqueue(item("4", domain.PriorityHigh)); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected aggregate ErrQueueFull, got %v", err)
	}
}

func TestSet_UnknownLane(t *testing.T) {
	q := queue.New(queue.Config{})
	if err := q.Enqueue(queue.Item{NotificationID: "x", Priority: "whenever"}); !errors.Is(err, domain.ErrUnknownLane) {
		t.Fatalf("expected ErrUnknownLane, got %v", err)
	}
	if err := q.Pause("whenever"); !errors.Is(err, domain.ErrUnknownLane) {
		t.Fatalf("expected ErrUnknownLane, got %v", err)
	}
}

func TestSet_PopDueRespectsBatchLimit(t *testing.T) {
	q := queue.New(queue.Config{})
	now := time.Now()

	for i := 0; i < 10; i++ {
		_ = q.Enqueue(item("n", domain.PriorityNormal))
	}
	if got := q.PopDue(now, 4); len(got) != 4 {
		t.Fatalf("expected 4 items, got %d", len(got))
	}
	if q.Len() != 6 {
		t.Fatalf("expected 6 remaining, got %d", q.Len())
	}
}

func TestSet_SnapshotTracksResults(t *testing.T) {
	q := queue.New(queue.Config{})

	q.RecordResult(domain.PriorityNormal, true, 100*time.Millisecond)
	q.RecordResult(domain.PriorityNormal, false, 300*time.Millisecond)

	for _, st := range q.Snapshot() {
		if st.Priority != domain.PriorityNormal {
			continue
		}
		if st.Processed != 1 || st.Failed != 1 {
			t.Fatalf("unexpected counters: %+v", st)
		}
		if st.AvgMillis != 200 {
			t.Fatalf("expected avg 200ms, got %d", st.AvgMillis)
		}
		return
	}
	t.Fatal("normal lane missing from snapshot")
}
