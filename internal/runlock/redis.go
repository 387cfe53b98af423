// Package runlock serializes runs of one pipeline stage across processes.
package runlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrHeld is returned when another run holds the stage lock.
	ErrHeld = errors.New("stage lock is held by another run")

	// ErrLost is the cancellation cause of a lease context whose lock
	// could not be kept.
	ErrLost = errors.New("stage lock was lost")
)

// Holder identifies the run that owns a stage lock.
type Holder struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Release gives a lock back. Releasing is safe after the TTL expired and
// never removes a lock taken by another run.
type Release func(ctx context.Context) error

// releaseScript deletes the key only while it still carries our value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's TTL only while it still carries our value.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker takes stage locks with SET NX PX. A held lock is refreshed
// every third of its TTL until released.
type RedisLocker struct {
	redis redis.Cmdable
	ttl   time.Duration
	now   func() time.Time
}

// NewRedisLocker creates a locker whose locks expire after ttl.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	return &RedisLocker{redis: client, ttl: ttl, now: time.Now}
}

func lockKey(stage string) string {
	return fmt.Sprintf("flight_pipeline_lock:%s", stage)
}

// Acquire takes the lock for stage on behalf of runID. The returned
// context is derived from ctx and is cancelled with cause ErrLost once the
// lock can no longer be extended, so work bound to it stops before another
// run can take over.
func (l *RedisLocker) Acquire(ctx context.Context, stage, runID string) (context.Context, Release, error) {
	data, err := json.Marshal(Holder{RunID: runID, Stage: stage, AcquiredAt: l.now().UTC()})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal lock holder: %w", err)
	}
	value := string(data)
	key := lockKey(stage)

	ok, err := l.redis.SetNX(ctx, key, value, l.ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire lock in Redis: %w", err)
	}
	if !ok {
		if h, err := l.holder(ctx, stage); err == nil && h != nil {
			return nil, nil, fmt.Errorf("%s: %w (run %s since %s)",
				stage, ErrHeld, h.RunID, h.AcquiredAt.Format(time.RFC3339))
		}
		return nil, nil, fmt.Errorf("%s: %w", stage, ErrHeld)
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(leaseCtx, cancel, key, value, stop)
	}()

	var once sync.Once
	return leaseCtx, func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
			cancel(context.Canceled)
		})
		if err := releaseScript.Run(ctx, l.redis, []string{key}, value).Err(); err != nil {
			return fmt.Errorf("failed to release lock in Redis: %w", err)
		}
		return nil
	}, nil
}

// keepAlive extends the lock until stop is closed. The lease is cancelled
// when the key is owned by someone else, or when no refresh succeeded for
// a whole TTL.
func (l *RedisLocker) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, key, value string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	lastRefresh := l.now()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		extended, err := refreshScript.Run(context.WithoutCancel(ctx), l.redis,
			[]string{key}, value, l.ttl.Milliseconds()).Int()
		switch {
		case err == nil && extended == 1:
			lastRefresh = l.now()
		case err == nil:
			cancel(ErrLost)
			return
		case l.now().Sub(lastRefresh) >= l.ttl:
			cancel(fmt.Errorf("%w: %v", ErrLost, err))
			return
		}
	}
}

// holder returns the current owner of stage's lock, or nil when free.
func (l *RedisLocker) holder(ctx context.Context, stage string) (*Holder, error) {
	data, err := l.redis.Get(ctx, lockKey(stage)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock from Redis: %w", err)
	}

	var h Holder
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock holder: %w", err)
	}
	return &h, nil
}
