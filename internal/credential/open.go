package credential

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSealed = "sealed"
	BackendRedis  = "redis"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend    string
	Path       string
	Passphrase string
	RedisAddr  string
	RedisKey   string
	RedisTTL   time.Duration
}

// Open builds the configured store. The returned closer releases any
// connections the backend holds and is never nil.
func Open(ctx context.Context, opts Options) (Store, io.Closer, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemoryStore(), nopCloser{}, nil

	case BackendFile, "":
		return NewFileStore(opts.Path), nopCloser{}, nil

	case BackendSealed:
		fs, err := NewSealedFileStore(opts.Path, opts.Passphrase)
		if err != nil {
			return nil, nil, errors.NewConfigInvalidError(err.Error()).
				WithSuggestion("Set BODEGA_CREDENTIAL_KEY to the passphrase used to seal the credential")
		}
		return fs, nopCloser{}, nil

	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, errors.NewStoreError(errors.ErrCodeStoreRead, fmt.Sprintf("redis ping %s", opts.RedisAddr), err)
		}

		rs := NewRedisStore(client, opts.RedisKey, opts.RedisTTL)
		return rs, rs, nil
	}

	return nil, nil, errors.NewConfigInvalidError(fmt.Sprintf("unknown credential backend %q", opts.Backend))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
