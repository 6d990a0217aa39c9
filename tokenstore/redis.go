package tokenstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petal-labs/carelink/core"
)

// DefaultRedisPrefix namespaces token keys when no prefix is given.
const DefaultRedisPrefix = "carelink:tokens:"

// Redis stores tokens in Redis so several processes can share one session.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithTTL expires stored tokens after d. Zero keeps them until cleared.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = d
	}
}

// NewRedis creates a store using client. Keys are "<prefix>access" and
// "<prefix>refresh".
func NewRedis(client redis.UniversalClient, prefix string, opts ...RedisOption) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	r := &Redis{client: client, prefix: prefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) AccessToken(ctx context.Context) (string, error) {
	return r.get(ctx, "access")
}

func (r *Redis) RefreshToken(ctx context.Context) (string, error) {
	return r.get(ctx, "refresh")
}

func (r *Redis) SaveAccessToken(ctx context.Context, token string) error {
	return r.set(ctx, "access", token)
}

func (r *Redis) SaveRefreshToken(ctx context.Context, token string) error {
	return r.set(ctx, "refresh", token)
}

func (r *Redis) ClearAccessToken(ctx context.Context) error {
	return r.client.Del(ctx, r.key("access")).Err()
}

func (r *Redis) ClearRefreshToken(ctx context.Context) error {
	return r.client.Del(ctx, r.key("refresh")).Err()
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

func (r *Redis) get(ctx context.Context, name string) (string, error) {
	v, err := r.client.Get(ctx, r.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (r *Redis) set(ctx context.Context, name, token string) error {
	if token == "" {
		return r.client.Del(ctx, r.key(name)).Err()
	}
	return r.client.Set(ctx, r.key(name), token, r.ttl).Err()
}

var _ core.TokenStore = (*Redis)(nil)
