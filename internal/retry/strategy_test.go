package retry_test

import (
	"testing"
	"time"

	"github.com/carepulse/notify/internal/backoff"
	"github.com/carepulse/notify/internal/retry"
)

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	reg := retry.NewRegistry()

	s := retry.Strategy{Name: "webhook-slow", Attempts: 1, Delay: time.Second, Backoff: backoff.Fixed}
	if err := reg.Register(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register(s); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistry_ReplaceOverwrites(t *testing.T) {
	reg := retry.NewRegistry()

	if err := reg.Replace(retry.Strategy{Name: "standard", Attempts: 9, Delay: time.Second, Backoff: backoff.Fixed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := reg.Get("standard")
	if !ok || got.Attempts != 9 {
		t.Fatalf("expected replaced strategy, got %+v ok=%v", got, ok)
	}
}

func TestRegistry_ValidationErrors(t *testing.T) {
	reg := retry.NewRegistry()

	tests := []struct {
		name     string
		strategy retry.Strategy
	}{
		{"empty name", retry.Strategy{Backoff: backoff.Fixed}},
		{"negative attempts", retry.Strategy{Name: "x", Attempts: -1, Backoff: backoff.Fixed}},
		{"bad backoff kind", retry.Strategy{Name: "x", Backoff: "cubic"}},
		{"max delay below base", retry.Strategy{Name: "x", Delay: time.Second, MaxDelay: time.Millisecond, Backoff: backoff.Fixed}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := reg.Register(tc.strategy); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRegistry_BuiltinsPresent(t *testing.T) {
	reg := retry.NewRegistry()
	for _, name := range []string{"standard", "aggressive", "cautious", "none"} {
		if _, ok := reg.Get(name); !ok {
			t.Fatalf("builtin strategy %q missing", name)
		}
	}
}
