package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StudentLocker implements command.StudentLocker across worker processes.
// A lock is a key holding a random token with a TTL, so a crashed worker
// cannot hold a student forever.
type StudentLocker struct {
	cache        *Cache
	ttl          time.Duration
	pollInterval time.Duration
}

// NewStudentLocker creates a locker. ttl bounds how long a lock survives its holder.
func NewStudentLocker(cache *Cache, ttl time.Duration) *StudentLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StudentLocker{
		cache:        cache,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
	}
}

func lockKey(studentID string) string {
	return "lock:student:" + studentID
}

// Lock polls until the key is acquired or ctx is done.
func (l *StudentLocker) Lock(ctx context.Context, studentID string) (func(context.Context) error, error) {
	key := l.cache.Key(lockKey(studentID))
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.cache.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("lock student %s: %w", studentID, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, l.cache.client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: student %s: %v", shared.ErrLockNotAcquired, studentID, ctx.Err())
		case <-ticker.C:
		}
	}
}
