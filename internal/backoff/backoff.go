// Package backoff computes retry delays. All calculators are pure given a
// fixed random source; callers inject a seeded source in tests.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Kind selects the growth function applied between retry attempts.
type Kind string

const (
	Fixed       Kind = "fixed"
	Linear      Kind = "linear"
	Exponential Kind = "exponential"
	Polynomial  Kind = "polynomial"
)

func (k Kind) IsValid() bool {
	switch k {
	case Fixed, Linear, Exponential, Polynomial:
		return true
	}
	return false
}

// jitterFactor is the uniform perturbation applied when jitter is enabled:
// delay is scaled by a random factor in [1-jitterFactor, 1+jitterFactor].
const jitterFactor = 0.25

// Calculator computes the delay before a given retry attempt.
type Calculator struct {
	Kind     Kind
	Base     time.Duration
	Jitter   bool
	MaxDelay time.Duration // zero = unbounded

	// Rand is the random source for jitter. Nil uses the shared global
	// source; tests pass rand.New(rand.NewSource(seed)) for determinism.
	Rand *rand.Rand
}

// Delay returns the backoff before attempt n (1-based). Never negative.
func (c Calculator) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var d float64
	base := float64(c.Base)
	switch c.Kind {
	case Linear:
		d = base * float64(attempt)
	case Exponential:
		d = base * math.Pow(2, float64(attempt-1))
	case Polynomial:
		d = base * float64(attempt) * float64(attempt)
	default: // Fixed
		d = base
	}

	if c.Jitter {
		d *= 1 + (c.float64()*2-1)*jitterFactor
	}
	if d < 0 {
		d = 0
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

func (c Calculator) float64() float64 {
	if c.Rand != nil {
		return c.Rand.Float64()
	}
	return rand.Float64()
}
