package retry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carepulse/notify/internal/backoff"
)

// Strategy is a named retry policy. Attempts is the number of retries after
// the initial try, so an operation runs at most Attempts+1 times.
// A registered strategy is immutable; changing one requires an explicit
// Replace so concurrent executions never observe a half-updated policy.
type Strategy struct {
	Name     string
	Attempts int
	Delay    time.Duration
	Backoff  backoff.Kind
	Jitter   bool
	MaxDelay time.Duration // zero = unbounded
	Timeout  time.Duration // per-attempt; zero = no timeout

	// RetryIf decides whether an error is worth another attempt.
	// Nil falls back to domain.IsRetryable.
	RetryIf func(error) bool

	// Lifecycle hooks. All optional; invoked synchronously by the executor.
	OnRetry   func(attempt int, err error, delay time.Duration)
	OnSuccess func(attempts int)
	OnFailure func(attempts int, err error)
}

func (s Strategy) validate() error {
	if s.Name == "" {
		return fmt.Errorf("strategy name must not be empty")
	}
	if s.Attempts < 0 {
		return fmt.Errorf("strategy %q: attempts must not be negative", s.Name)
	}
	if s.Delay < 0 {
		return fmt.Errorf("strategy %q: delay must not be negative", s.Name)
	}
	if !s.Backoff.IsValid() {
		return fmt.Errorf("strategy %q: unknown backoff kind %q", s.Name, s.Backoff)
	}
	if s.MaxDelay != 0 && s.MaxDelay < s.Delay {
		return fmt.Errorf("strategy %q: max delay %v below base delay %v", s.Name, s.MaxDelay, s.Delay)
	}
	return nil
}

// Registry is a concurrency-safe name → Strategy map.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns a registry pre-seeded with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range builtinStrategies() {
		r.strategies[s.Name] = s
	}
	return r
}

// Register adds a new strategy. Registering over an existing name fails;
// use Replace for that.
func (r *Registry) Register(s Strategy) error {
	if err := s.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.Name]; exists {
		return fmt.Errorf("strategy %q already registered", s.Name)
	}
	r.strategies[s.Name] = s
	return nil
}

// Replace installs a strategy under its name, overwriting any existing one.
func (r *Registry) Replace(s Strategy) error {
	if err := s.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name] = s
	return nil
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// List returns all registered strategies sorted by name.
func (r *Registry) List() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// builtinStrategies covers the common delivery profiles. Services register
// additional strategies at startup via config.
func builtinStrategies() []Strategy {
	return []Strategy{
		{
			Name:     "standard",
			Attempts: 2, // 3 tries total
			Delay:    time.Second,
			Backoff:  backoff.Exponential,
			Jitter:   true,
			MaxDelay: 30 * time.Second,
		},
		{
			Name:     "aggressive",
			Attempts: 4,
			Delay:    200 * time.Millisecond,
			Backoff:  backoff.Exponential,
			Jitter:   true,
			MaxDelay: 5 * time.Second,
		},
		{
			Name:     "cautious",
			Attempts: 2,
			Delay:    5 * time.Second,
			Backoff:  backoff.Linear,
			Jitter:   false,
			MaxDelay: time.Minute,
		},
		{
			Name:     "none",
			Attempts: 0,
			Delay:    0,
			Backoff:  backoff.Fixed,
		},
	}
}
