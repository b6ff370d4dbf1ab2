package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores counters as plain integer keys (INCR/GET).
type Redis struct {
	client redis.UniversalClient
	owned  bool
}

var _ Backend = (*Redis)(nil)

// NewRedis wraps a client owned by the caller; Close leaves it open.
func NewRedis(client redis.UniversalClient) *Redis { return &Redis{client: client} }

// DialRedis connects to rawURL and verifies the connection.
func DialRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, owned: true}, nil
}

func (r *Redis) Incr(ctx context.Context, key string) error {
	return r.client.Incr(ctx, key).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
