package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*PeriodLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPeriodLocker(client, time.Minute), mr
}

func TestPeriodLockerExcludesSecondHolder(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, 7)
	require.NoError(t, err)
	require.True(t, mr.Exists(PeriodLockKey(7)))

	_, err = locker.Acquire(ctx, 7)
	require.ErrorIs(t, err, ErrPeriodLocked)

	_, err = locker.Acquire(ctx, 8)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists(PeriodLockKey(7)))

	_, err = locker.Acquire(ctx, 7)
	require.NoError(t, err)
}

func TestPeriodLockerReleaseKeepsForeignLock(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, 7)
	require.NoError(t, err)

	// the lock expired and another run took it
	mr.FastForward(2 * time.Minute)
	_, err = locker.Acquire(ctx, 7)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	require.True(t, mr.Exists(PeriodLockKey(7)))
}

func TestPeriodLockKey(t *testing.T) {
	require.Equal(t, "coop:period:42:lock", PeriodLockKey(42))
}
