package retry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the overall outcome of one Execute call.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
	ExecutionAborted ExecutionStatus = "aborted"
)

// Attempt is one recorded try within an execution.
type Attempt struct {
	Number   int           `json:"number"`
	At       time.Time     `json:"at"`
	Delay    time.Duration `json:"delay"` // backoff slept before this attempt
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
}

// Execution records one run of the executor for later inspection. It is
// mutated only by the executing goroutine; the store hands out copies.
type Execution struct {
	ID         string          `json:"id"`
	Strategy   string          `json:"strategy"`
	Status     ExecutionStatus `json:"status"`
	Attempts   []Attempt       `json:"attempts"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// ExecutionStore retains executions for a bounded period after completion so
// operators can inspect what a retry run did. Completed entries are evicted
// by Sweep once they outlive the retention window.
type ExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	retention  time.Duration
	now        func() time.Time
}

const defaultRetention = 5 * time.Minute

func NewExecutionStore(retention time.Duration) *ExecutionStore {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &ExecutionStore{
		executions: make(map[string]*Execution),
		retention:  retention,
		now:        time.Now,
	}
}

func (s *ExecutionStore) begin(strategy string) *Execution {
	e := &Execution{
		ID:        uuid.New().String(),
		Strategy:  strategy,
		Status:    ExecutionRunning,
		StartedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.executions[e.ID] = e
	s.mu.Unlock()
	return e
}

func (s *ExecutionStore) record(e *Execution, a Attempt) {
	s.mu.Lock()
	e.Attempts = append(e.Attempts, a)
	s.mu.Unlock()
}

func (s *ExecutionStore) finish(e *Execution, status ExecutionStatus) {
	now := s.now().UTC()
	s.mu.Lock()
	e.Status = status
	e.FinishedAt = &now
	s.mu.Unlock()
}

// Get returns a copy of the execution with the given id.
func (s *ExecutionStore) Get(id string) (Execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return Execution{}, false
	}
	clone := *e
	clone.Attempts = append([]Attempt(nil), e.Attempts...)
	return clone, true
}

// Len returns the number of retained executions, running ones included.
func (s *ExecutionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}

// Sweep evicts completed executions older than the retention window and
// returns how many were removed.
func (s *ExecutionStore) Sweep() int {
	cutoff := s.now().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.executions {
		if e.Status != ExecutionRunning && e.FinishedAt != nil && e.FinishedAt.Before(cutoff) {
			delete(s.executions, id)
			removed++
		}
	}
	return removed
}
