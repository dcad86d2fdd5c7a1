package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrNotAcquired is returned when another writer holds the key past the wait budget.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrLeaseLost is reported when a held key expired or changed owner before release.
	ErrLeaseLost = errors.New("lock lease lost")
)

// Release frees a held lock. It is safe to call more than once.
type Release func()

// Locker grants single-writer access to a named entity.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// TimetableKey scopes writes to one section's timetable documents.
func TimetableKey(sectionID string) string {
	return fmt.Sprintf("timetable:section:%s", sectionID)
}

// ConflictKey scopes writes to one conflict record.
func ConflictKey(conflictID string) string {
	return fmt.Sprintf("conflict:%s", conflictID)
}

const pollInterval = 50 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker implements Locker with SET NX PX. While a lease is held it is
// extended every third of its TTL, and release only deletes the key while it
// still holds this lease's token.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewRedisLocker builds a distributed locker.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, prefix: "lock:", ttl: ttl, wait: wait, logger: logger}
}

// Acquire polls until the key is free, the wait budget is spent or ctx ends.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	name := l.prefix + key
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	leaseCtx, stop := context.WithCancel(context.Background())
	go keepAlive(leaseCtx, l.ttl/3, func(ctx context.Context) (bool, error) {
		extended, err := extendScript.Run(ctx, l.client, []string{name}, token, l.ttl.Milliseconds()).Int()
		return extended == 1, err
	}, func(err error) {
		l.logger.Warn("lock lease renewal failed", zap.String("key", key), zap.Error(err))
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{name}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				l.logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// keepAlive calls extend every interval until ctx ends or extend reports the lease
// is gone. Errors are passed to report and renewal keeps going; a lost lease is
// reported once as ErrLeaseLost and stops the loop.
func keepAlive(ctx context.Context, interval time.Duration, extend func(context.Context) (bool, error), report func(error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		callCtx, cancel := context.WithTimeout(ctx, interval)
		held, err := extend(callCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			report(err)
			continue
		}
		if !held {
			report(ErrLeaseLost)
			return
		}
	}
}

// LocalLocker is an in-process keyed mutex used when Redis is not configured.
type LocalLocker struct {
	wait time.Duration
	mu   sync.Mutex
	keys map[string]chan struct{}
}

// NewLocalLocker builds an in-process locker.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{wait: wait, keys: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.keys[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.keys[key] = ch
	}
	return ch
}

// Acquire blocks until the key is free, the wait budget is spent or ctx ends.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return releaseSlot(ch), nil
	default:
	}

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return releaseSlot(ch), nil
	case <-timer.C:
		return nil, ErrNotAcquired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func releaseSlot(ch chan struct{}) Release {
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}
}
