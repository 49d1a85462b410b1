package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cordum/jobcore/core/infra/redisutil"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	defaultTTL      = 30 * time.Second
	keyPrefix       = "jobcore:lock:"
)

// RedisStore keeps leases as plain Redis strings holding the owner, with the
// lease TTL as the key expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed lease store.
func NewRedisStore(url string) (*RedisStore, error) {
	if url == "" {
		url = defaultRedisURL
	}
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Acquire takes the lease when it is free or already held by owner.
func (s *RedisStore) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	return s.eval(ctx, acquireScript, resource, owner, normalizeTTL(ttl).Milliseconds())
}

// Renew extends the lease if owner still holds it.
func (s *RedisStore) Renew(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	return s.eval(ctx, renewScript, resource, owner, normalizeTTL(ttl).Milliseconds())
}

// Release drops the lease if owner holds it.
func (s *RedisStore) Release(ctx context.Context, resource, owner string) (bool, error) {
	return s.eval(ctx, releaseScript, resource, owner)
}

// Holder returns the current owner, or "" when the lease is free.
func (s *RedisStore) Holder(ctx context.Context, resource string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("lock store unavailable")
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return "", fmt.Errorf("resource required")
	}
	owner, err := s.client.Get(ctx, lockKey(resource)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

func (s *RedisStore) eval(ctx context.Context, script, resource, owner string, args ...any) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("lock store unavailable")
	}
	resource = strings.TrimSpace(resource)
	owner = strings.TrimSpace(owner)
	if resource == "" || owner == "" {
		return false, fmt.Errorf("resource and owner required")
	}
	n, err := s.client.Eval(ctx, script, []string{lockKey(resource)}, append([]any{owner}, args...)...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

func lockKey(resource string) string {
	return keyPrefix + resource
}

const acquireScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
if current == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
return 0
`

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
return 0
`

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`
