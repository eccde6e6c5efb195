package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld is returned when another run holds the lock for a repository
var ErrLockHeld = errors.New("run lock is held by another process")

const lockKeyPrefix = "traffic-stats:run:"

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLocker hands out per-repository run locks backed by Redis
type RunLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLocker connects to redisURL and verifies the connection
func NewRunLocker(ctx context.Context, redisURL string, ttl time.Duration) (*RunLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRunLockerWithClient(client, ttl), nil
}

// NewRunLockerWithClient wraps an existing client
func NewRunLockerWithClient(client *redis.Client, ttl time.Duration) *RunLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RunLocker{client: client, ttl: ttl}
}

// RunLock is a held lock
type RunLock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the lock for repository, failing with ErrLockHeld if it is taken
func (l *RunLocker) Acquire(ctx context.Context, repository string) (*RunLock, error) {
	key := lockKeyPrefix + repository
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock for %s: %w", repository, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, repository)
	}
	return &RunLock{client: l.client, key: key, token: token}, nil
}

// Close closes the Redis client
func (l *RunLocker) Close() error {
	return l.client.Close()
}

// Release frees the lock if it is still ours
func (rl *RunLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, rl.client, []string{rl.key}, rl.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
