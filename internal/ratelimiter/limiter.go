// Package ratelimiter gates notification dispatch per (channel, recipient)
// key through stacked fixed windows, and paces provider calls per channel.
package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Limits holds the per-key ceilings. A zero value disables that window.
type Limits struct {
	Burst     int // within the burst window (default 10s)
	PerMinute int
	PerHour   int
	PerDay    int
}

// DefaultLimits is tuned for patient-facing traffic: short bursts are the
// common failure mode, daily volume the regulatory one.
func DefaultLimits() Limits {
	return Limits{Burst: 3, PerMinute: 10, PerHour: 100, PerDay: 500}
}

const defaultBurstSpan = 10 * time.Second

type window struct {
	name  string
	span  time.Duration
	limit int
}

// Limiter checks every active window before recording a request. A request
// is allowed only when all windows are under their limits; on rejection no
// window is incremented, so a denied request never consumes quota.
type Limiter struct {
	store   Store
	windows []window
	logger  *zap.Logger

	// Now is the clock used to derive window starts. Tests override it to
	// drive window rollover without sleeping.
	Now func() time.Time

	// OnReject is an optional metric hook called with the window name.
	OnReject func(window string)
}

func NewLimiter(store Store, limits Limits, logger *zap.Logger) *Limiter {
	var windows []window
	if limits.Burst > 0 {
		windows = append(windows, window{"burst", defaultBurstSpan, limits.Burst})
	}
	if limits.PerMinute > 0 {
		windows = append(windows, window{"minute", time.Minute, limits.PerMinute})
	}
	if limits.PerHour > 0 {
		windows = append(windows, window{"hour", time.Hour, limits.PerHour})
	}
	if limits.PerDay > 0 {
		windows = append(windows, window{"day", 24 * time.Hour, limits.PerDay})
	}
	return &Limiter{
		store:   store,
		windows: windows,
		logger:  logger,
		Now:     time.Now,
	}
}

// Allow reports whether a request under key may proceed and, if so, records
// it in every window. The check and the increments run as one atomic store
// operation, so concurrent callers, even across processes sharing Redis,
// cannot over-admit past a window's limit. Store failures fail open: the
// limiter must never turn a degraded Redis into a delivery outage.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if len(l.windows) == 0 {
		return true
	}
	now := l.Now()

	buckets := make([]Bucket, len(l.windows))
	for i, w := range l.windows {
		buckets[i] = Bucket{
			Key:   bucketKey(key, w, now),
			Limit: w.limit,
			// TTL of twice the span keeps the bucket alive for the whole
			// window regardless of when within it the first hit landed.
			TTL: 2 * w.span,
		}
	}

	rejected, err := l.store.CheckAndIncr(ctx, buckets)
	if err != nil {
		l.logger.Warn("rate limit store failed, allowing",
			zap.String("key", key), zap.Error(err))
		return true
	}
	if rejected >= 0 {
		if l.OnReject != nil {
			l.OnReject(l.windows[rejected].name)
		}
		return false
	}
	return true
}

// bucketKey pins a counter to its fixed window: the window start is the
// timestamp truncated to the window span.
func bucketKey(key string, w window, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", key, w.name, now.Truncate(w.span).Unix())
}

// Key builds the canonical limiter key for a channel/recipient pair.
func Key(channel, recipient string) string {
	return channel + ":" + recipient
}
