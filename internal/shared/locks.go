package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PeriodLockKey builds the redis key guarding a period close run.
func PeriodLockKey(periodID int64) string {
	return fmt.Sprintf("coop:period:%d:lock", periodID)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PeriodLocker serialises close runs for the same period across processes.
type PeriodLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewPeriodLocker constructs a locker. A non-positive ttl defaults to 15 minutes.
func NewPeriodLocker(client redis.UniversalClient, ttl time.Duration) *PeriodLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &PeriodLocker{client: client, ttl: ttl}
}

// Acquire takes the lock for periodID. The returned func releases it only if
// this holder still owns it.
func (l *PeriodLocker) Acquire(ctx context.Context, periodID int64) (func(context.Context) error, error) {
	key := PeriodLockKey(periodID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("period lock: %w", err)
	}
	if !ok {
		return nil, ErrPeriodLocked
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}
