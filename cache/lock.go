package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock key only if it still holds the token we
// set it with - a plain DEL would happily release a lock some other
// holder already re-acquired after our lease expired.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// OrderLock is a per-participant distributed mutex backed by SETNX,
// serializing concurrent order submissions for the same participant.
// It is a latency optimization, not a correctness mechanism - the
// atomic guard UPDATE in the orders package is what actually prevents
// overdraft if the lock is unavailable or Redis is down.
type OrderLock struct {
	client *redis.Client
	prefix string
}

func NewOrderLock(c *RedisCache) *OrderLock {
	return &OrderLock{client: c.client, prefix: c.prefix}
}

// Acquire blocks up to waitBudget polling for the lock, and returns a
// release func and true if acquired. On any Redis error it fails open
// (returns true, no-op release) so a Redis outage degrades to
// unserialized submissions rather than blocking orders outright.
func (l *OrderLock) Acquire(ctx context.Context, participantID string, lease, waitBudget time.Duration) (release func(), acquired bool) {
	key := l.prefix + ":" + NS_OrderLock + ":" + participantID
	token := uuid.NewString()

	deadline := time.Now().Add(waitBudget)
	for {
		ok, err := l.client.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return func() {}, true
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				releaseScript.Run(releaseCtx, l.client, []string{key}, token)
			}, true
		}
		if time.Now().After(deadline) {
			return func() {}, false
		}
		time.Sleep(20 * time.Millisecond)
	}
}
