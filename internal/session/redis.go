package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"areahood/internal/observability"

	"github.com/redis/go-redis/v9"
)

type metricsHook struct{}

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.SessionStoreErrors.WithLabelValues("redis", cmd.Name()).Inc()
		}
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.SessionStoreErrors.WithLabelValues("redis", "pipeline").Inc()
		}
		return err
	}
}

// RedisStore keeps the snapshot under a single redis key.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. ttl 0 means no expiry.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	client.AddHook(metricsHook{})
	return &RedisStore{client: client, key: key, ttl: ttl}
}

// OpenRedis connects to addr, which may be a host:port or a redis:// URL.
func OpenRedis(ctx context.Context, addr, key string) (*RedisStore, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL %q: %w", addr, err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(client, key, 0), nil
}

func (r *RedisStore) Load(ctx context.Context) (Snapshot, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	s, err := Decode(data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	b, err := snap.Encode()
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, b, r.ttl).Err()
}

func (r *RedisStore) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
