package ratelimiter

import (
	"context"
	"time"
)

// Bucket is one fixed-window counter consulted during an admission check.
type Bucket struct {
	Key   string
	Limit int
	TTL   time.Duration
}

// Store is the counter backend for fixed rate-limit windows. The memory
// implementation serves single-process deployments; the Redis one shares
// windows across processes. Both carry identical semantics: a counter lives
// under a bucket key derived from (limit key, window name, window start) and
// expires once the window can no longer be consulted.
type Store interface {
	// CheckAndIncr admits one request against every bucket as a single
	// atomic operation: when all counters are under their limits it
	// increments them all and returns -1; otherwise it increments nothing
	// and returns the index of the first bucket at its limit. Concurrent
	// callers observe each other's increments, so a limit of N admits at
	// most N requests per window no matter how many processes race.
	CheckAndIncr(ctx context.Context, buckets []Bucket) (rejected int, err error)
}
