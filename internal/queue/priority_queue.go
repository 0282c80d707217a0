// Package queue holds pending notification work in five fixed-priority
// lanes. Drain order is strict priority: a lower lane is serviced only when
// every higher lane is empty or paused at the polling instant. Within a lane
// items come out in scheduled-time order, enqueue order breaking ties.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/carepulse/notify/internal/domain"
)

// Config bounds the queue set. Zero capacities fall back to the defaults.
type Config struct {
	// LaneCapacity caps each lane individually.
	LaneCapacity map[domain.Priority]int

	// AggregateCapacity caps the total across all lanes.
	AggregateCapacity int
}

// Default capacities reflect expected traffic ratios: critical must never
// accumulate, normal carries the bulk, low is best-effort.
var defaultLaneCapacity = map[domain.Priority]int{
	domain.PriorityCritical: 1000,
	domain.PriorityUrgent:   2000,
	domain.PriorityHigh:     3000,
	domain.PriorityNormal:   5000,
	domain.PriorityLow:      2000,
}

const defaultAggregateCapacity = 10000

// Set is the five-lane priority queue. Safe for concurrent use.
type Set struct {
	mu           sync.Mutex
	lanes        map[domain.Priority]*lane
	aggregateCap int
	total        int
	seq          uint64
}

func New(cfg Config) *Set {
	s := &Set{
		lanes:        make(map[domain.Priority]*lane, len(domain.Priorities)),
		aggregateCap: cfg.AggregateCapacity,
	}
	if s.aggregateCap <= 0 {
		s.aggregateCap = defaultAggregateCapacity
	}
	for _, p := range domain.Priorities {
		capacity := cfg.LaneCapacity[p]
		if capacity <= 0 {
			capacity = defaultLaneCapacity[p]
		}
		s.lanes[p] = &lane{capacity: capacity}
	}
	return s
}

// Enqueue places an item on its priority lane. Non-blocking: a full lane or
// a full aggregate returns ErrQueueFull immediately rather than blocking the
// caller.
func (s *Set) Enqueue(it Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[it.Priority]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownLane, it.Priority)
	}
	if l.items.Len() >= l.capacity || s.total >= s.aggregateCap {
		return domain.ErrQueueFull
	}

	s.seq++
	it.seq = s.seq
	l.push(it)
	s.total++
	return nil
}

// PopDue removes and returns up to max items that are due at now, draining
// lanes in strict priority order and skipping paused lanes. Items scheduled
// for later stay put.
func (s *Set) PopDue(now time.Time, max int) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Item
	for _, p := range domain.Priorities {
		l := s.lanes[p]
		if l.paused {
			continue
		}
		for len(out) < max {
			head, ok := l.peek()
			if !ok || head.DueAt.After(now) {
				break
			}
			out = append(out, l.pop())
			s.total--
		}
		if len(out) >= max {
			break
		}
	}
	return out
}

// Pause stops a lane from being drained. Other lanes are unaffected.
func (s *Set) Pause(p domain.Priority) error {
	return s.setPaused(p, true)
}

// Resume re-enables a paused lane.
func (s *Set) Resume(p domain.Priority) error {
	return s.setPaused(p, false)
}

func (s *Set) setPaused(p domain.Priority, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[p]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownLane, p)
	}
	l.paused = paused
	return nil
}

// RecordResult updates the per-lane delivery counters. Called by the
// dispatcher after each terminal processing outcome.
func (s *Set) RecordResult(p domain.Priority, ok bool, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, found := s.lanes[p]
	if !found {
		return
	}
	if ok {
		l.processed++
	} else {
		l.failed++
	}
	l.totalMillis += elapsed.Milliseconds()
}

// Depths returns the current number of waiting items per lane.
func (s *Set) Depths() map[domain.Priority]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Priority]int, len(s.lanes))
	for p, l := range s.lanes {
		out[p] = l.items.Len()
	}
	return out
}

// LaneStats is a point-in-time view of one lane for the stats endpoint.
type LaneStats struct {
	Priority   domain.Priority `json:"priority"`
	Depth      int             `json:"depth"`
	Capacity   int             `json:"capacity"`
	Paused     bool            `json:"paused"`
	Processed  uint64          `json:"processed"`
	Failed     uint64          `json:"failed"`
	AvgMillis  int64           `json:"avg_millis"`
}

// Snapshot returns stats for every lane in priority order.
func (s *Set) Snapshot() []LaneStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LaneStats, 0, len(domain.Priorities))
	for _, p := range domain.Priorities {
		l := s.lanes[p]
		st := LaneStats{
			Priority:  p,
			Depth:     l.items.Len(),
			Capacity:  l.capacity,
			Paused:    l.paused,
			Processed: l.processed,
			Failed:    l.failed,
		}
		if n := l.processed + l.failed; n > 0 {
			st.AvgMillis = l.totalMillis / int64(n)
		}
		out = append(out, st)
	}
	return out
}

// Len returns the total number of items across all lanes.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
