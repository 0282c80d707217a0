package ratelimiter

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// checkAndIncrScript runs the whole admission on the Redis server so racing
// processes cannot interleave between the check and the increment. ARGV
// carries (limit, ttl millis) pairs, one per key. Returns 0 when admitted,
// otherwise the 1-based index of the first bucket at its limit. The expiry is
// set only on bucket creation so later increments in the same window do not
// push the deadline out.
var checkAndIncrScript = redis.NewScript(`
for i = 1, #KEYS do
	local count = tonumber(redis.call('GET', KEYS[i]) or '0')
	if count >= tonumber(ARGV[2*i-1]) then
		return i
	end
end
for i = 1, #KEYS do
	if redis.call('INCR', KEYS[i]) == 1 then
		redis.call('PEXPIRE', KEYS[i], ARGV[2*i])
	end
end
return 0
`)

// RedisStore shares rate-limit windows across processes. Bucket keys are
// namespaced so one Redis instance can serve several deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "notify:ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) CheckAndIncr(ctx context.Context, buckets []Bucket) (int, error) {
	keys := make([]string, len(buckets))
	argv := make([]any, 0, 2*len(buckets))
	for i, b := range buckets {
		keys[i] = s.prefix + ":" + b.Key
		argv = append(argv, b.Limit, b.TTL.Milliseconds())
	}

	n, err := checkAndIncrScript.Run(ctx, s.client, keys, argv...).Int()
	if err != nil {
		return -1, fmt.Errorf("check and incr buckets: %w", err)
	}
	return n - 1, nil
}

var _ Store = (*RedisStore)(nil)
