package lock

import (
	"context"
	"time"

	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release
type RedisLocker struct {
	client redis.UniversalClient
	logger *logger.Logger
}

func NewRedisLocker(client redis.UniversalClient, logger *logger.Logger) *RedisLocker {
	return &RedisLocker{client: client, logger: logger}
}

// NewRedisClient connects to the configured redis instance
func NewRedisClient(cfg *config.Configuration) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	token := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LOCK_TOKEN)
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Handle{
		Key:        key,
		Token:      token,
		TTL:        ttl,
		AcquiredAt: time.Now().UTC(),
	}, nil
}

func (r *RedisLocker) Release(ctx context.Context, handle *Handle) error {
	deleted, err := releaseScript.Run(ctx, r.client, []string{handle.Key}, handle.Token).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		r.logger.Warnw("lock expired before release",
			"key", handle.Key,
			"held_for", time.Since(handle.AcquiredAt),
			"ttl", handle.TTL,
		)
	}
	return nil
}
