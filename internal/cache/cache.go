package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	// SetJobStatus mirrors st unless the mirror already holds a newer revision.
	SetJobStatus(ctx context.Context, jobID uuid.UUID, st JobStatus, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (JobStatus, bool, error)
	DeleteJobStatus(ctx context.Context, jobID uuid.UUID) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	// AcquireLock sets key to token if it is unset. It reports whether the lock was taken.
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes key only if it still holds token.
	ReleaseLock(ctx context.Context, key, token string) error
}

// JobStatus is the mirrored view of a job. Revision orders writes so a
// delayed mirror of an older row state never replaces a newer one.
type JobStatus struct {
	OwnerID  uuid.UUID
	Status   string
	Revision int64
}

// ErrLockNotHeld is returned by ReleaseLock when the key expired or belongs to another holder.
var ErrLockNotHeld = errors.New("lock not held")

var setStatusScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "revision")
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "revision", ARGV[1], "owner_id", ARGV[2], "status", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, st JobStatus, ttl time.Duration) error {
	return setStatusScript.Run(ctx, c.client, []string{JobStatusKey(jobID)},
		st.Revision, st.OwnerID.String(), st.Status, ttl.Milliseconds()).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (JobStatus, bool, error) {
	fields, err := c.client.HGetAll(ctx, JobStatusKey(jobID)).Result()
	if err != nil {
		return JobStatus{}, false, err
	}
	if len(fields) == 0 {
		return JobStatus{}, false, nil
	}
	rev, err := strconv.ParseInt(fields["revision"], 10, 64)
	if err != nil {
		return JobStatus{}, false, fmt.Errorf("job status revision: %w", err)
	}
	owner, err := uuid.Parse(fields["owner_id"])
	if err != nil {
		return JobStatus{}, false, fmt.Errorf("job status owner: %w", err)
	}
	return JobStatus{OwnerID: owner, Status: fields["status"], Revision: rev}, true, nil
}

func (c *RedisCache) DeleteJobStatus(ctx context.Context, jobID uuid.UUID) error {
	return c.client.Del(ctx, JobStatusKey(jobID)).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, token, ttl).Result()
}

func (c *RedisCache) ReleaseLock(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, c.client, []string{key}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
