package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExcludesSameKey(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)

	release, err := locker.Acquire(context.Background(), ConflictKey("c-1"))
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), ConflictKey("c-1"))
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := locker.Acquire(context.Background(), ConflictKey("c-2"))
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := locker.Acquire(context.Background(), ConflictKey("c-1"))
	require.NoError(t, err)
	again()
}

func TestLocalLockerWaitsForRelease(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	release, err := locker.Acquire(context.Background(), TimetableKey("s-1"))
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()

	next, err := locker.Acquire(context.Background(), TimetableKey("s-1"))
	require.NoError(t, err)
	next()
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "timetable:section:s-1", TimetableKey("s-1"))
	assert.Equal(t, "conflict:c-9", ConflictKey("c-9"))
}

func TestKeepAliveExtendsUntilStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		keepAlive(ctx, 5*time.Millisecond, func(context.Context) (bool, error) {
			if calls.Add(1) == 3 {
				cancel()
			}
			return true, nil
		}, func(err error) { t.Errorf("unexpected report: %v", err) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive did not stop after cancel")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestKeepAliveStopsWhenLeaseLost(t *testing.T) {
	calls := 0
	extend := func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("redis: connection refused")
		}
		return false, nil
	}
	var errs []error
	keepAlive(context.Background(), time.Millisecond, extend, func(err error) { errs = append(errs, err) })

	require.Len(t, errs, 2)
	assert.EqualError(t, errs[0], "redis: connection refused")
	assert.ErrorIs(t, errs[1], ErrLeaseLost)
}
