package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 30 * time.Second

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLock holds SET NX PX key for the directory and refreshes it while held. Suitable
// when the working directory is a shared volume seen by several hosts.
type RedisLock struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string // default "limebot:workspace:"

	mu     sync.Mutex
	key    string
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisLock returns a lock backed by client.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{Client: client, TTL: ttl}
}

func (l *RedisLock) Name() string { return "redis" }

func (l *RedisLock) ttl() time.Duration {
	if l.TTL <= 0 {
		return defaultRedisTTL
	}
	return l.TTL
}

func (l *RedisLock) Lock(ctx context.Context, dir, runID string) error {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "limebot:workspace:"
	}
	key := prefix + dir
	ok, err := l.Client.SetNX(ctx, key, runID, l.ttl()).Result()
	if err != nil {
		return fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		holder, _ := l.Client.Get(ctx, key).Result()
		return fmt.Errorf("%w: %s held by %q", ErrWorkspaceLocked, key, holder)
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.key, l.runID, l.cancel, l.done = key, runID, cancel, make(chan struct{})
	done := l.done
	l.mu.Unlock()
	go l.refresh(refreshCtx, done, key, runID)
	return nil
}

// refresh extends the key's TTL until ctx ends. key and runID are passed in because
// Unlock resets the fields while this goroutine is still running.
func (l *RedisLock) refresh(ctx context.Context, done chan struct{}, key, runID string) {
	defer close(done)
	logger := slog.Default().With(slog.String("component", "workspace_lock"), slog.String("key", key))
	ttl := l.ttl()
	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	ttlMillis := max(ttl.Milliseconds(), 1)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, l.Client, []string{key}, runID, ttlMillis).Int64()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("lock refresh failed", slog.Any("err", err))
				}
				continue
			}
			if n == 0 {
				logger.Error("workspace lock lost; another run may own the directory")
				return
			}
		}
	}
}

// Unlock stops the refresher and deletes the key if this run still owns it.
func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	cancel, done, key, runID := l.cancel, l.done, l.key, l.runID
	l.cancel, l.key = nil, ""
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	if err := releaseScript.Run(ctx, l.Client, []string{key}, runID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock %s: %w", key, err)
	}
	return nil
}
