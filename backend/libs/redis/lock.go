package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out short-lived exclusive leases backed by SET NX.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

// NewLocker returns a Locker or nil when client is nil.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// TryLock attempts to take key for ttl. The returned owner token must be
// passed to Release.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("redis: lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("redis: lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("redis: lock ttl must be positive")
	}

	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return owner, ok, nil
}

// Release drops the lease only if it is still held by owner.
func (l *Locker) Release(ctx context.Context, key, owner string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || owner == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, owner).Err()
}
