package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/scielo/kernel/internal/document"
)

// RedisGenerator keeps the counter in Redis, where INCR is atomic.
type RedisGenerator struct {
	client *redis.Client
	key    string
}

// NewRedisGenerator stores the counter under "seq:<label>".
func NewRedisGenerator(client *redis.Client, label string) *RedisGenerator {
	if label == "" {
		label = DefaultLabel
	}
	return &RedisGenerator{client: client, key: "seq:" + label}
}

func (g *RedisGenerator) Get(ctx context.Context) (int64, error) {
	n, err := g.client.Get(ctx, g.key).Int64()
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("sequence %s: %w: %v", g.key, document.ErrBackendUnavailable, err)
	}
	if err := g.client.SetNX(ctx, g.key, 0, 0).Err(); err != nil {
		return 0, fmt.Errorf("sequence %s: %w: %v", g.key, document.ErrBackendUnavailable, err)
	}
	n, err = g.client.Get(ctx, g.key).Int64()
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w: %v", g.key, document.ErrBackendUnavailable, err)
	}
	return n, nil
}

func (g *RedisGenerator) Next(ctx context.Context) (int64, error) {
	n, err := g.client.Incr(ctx, g.key).Result()
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w: %v", g.key, document.ErrBackendUnavailable, err)
	}
	return n, nil
}
