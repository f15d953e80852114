package credential

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

// DefaultRedisKey is the key used when none is configured.
const DefaultRedisKey = "bodega:credential"

// RedisStore keeps the credential under a single Redis key, so several
// terminals can share one login.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a store using key on client. A zero ttl keeps the
// credential until it is cleared.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

// Get reads the credential.
func (r *RedisStore) Get(ctx context.Context) (Credential, bool, error) {
	v, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, errors.NewStoreError(errors.ErrCodeStoreRead, "redis get", err)
	}
	return Credential(v), v != "", nil
}

// Set writes the credential.
func (r *RedisStore) Set(ctx context.Context, c Credential) error {
	if err := r.client.Set(ctx, r.key, string(c), r.ttl).Err(); err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "redis set", err)
	}
	return nil
}

// Clear deletes the key.
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "redis del", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
