// Copyright 2025 James Ross
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript is a single EXISTS+SETEX round trip so two racing
// callers can't both observe an unset key.
const reserveScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 1
end
redis.call('SETEX', KEYS[1], ARGV[1], ARGV[2])
return 0
`

// RedisReservation is a latency-optimization fast path in front of the
// authoritative Postgres idempotency check: a cache
// entry being present means "skip this, don't even ask Postgres", but a
// cache miss never means "safe to proceed" on its own — the Postgres
// check is still the source of truth. Keys are the deterministic
// per-stage values the idempotency package derives.
type RedisReservation struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewRedisReservation(client *redis.Client, namespace string, ttl time.Duration) *RedisReservation {
	if namespace == "" {
		namespace = "clipforge:idempotency"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisReservation{client: client, namespace: namespace, ttl: ttl}
}

func (r *RedisReservation) keyName(key string) string {
	return fmt.Sprintf("%s:%s", r.namespace, key)
}

// TryReserve reports whether key was freshly reserved (true) or was
// already held by a prior caller (false, meaning "skip work"). Errors
// talking to Redis are non-fatal to the caller: the Postgres check still
// runs, so a Redis outage degrades latency, not correctness.
func (r *RedisReservation) TryReserve(ctx context.Context, key string) (bool, error) {
	res, err := r.client.Eval(ctx, reserveScript, []string{r.keyName(key)},
		int(r.ttl.Seconds()), time.Now().Unix()).Int()
	if err != nil {
		return false, fmt.Errorf("idempotency: redis reserve %s: %w", key, err)
	}
	return res == 0, nil
}

// Release drops a reservation, used when the guarded work failed and a
// later retry should be allowed to reserve the same key again.
func (r *RedisReservation) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyName(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis release %s: %w", key, err)
	}
	return nil
}
