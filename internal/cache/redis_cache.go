package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"cafepos/internal/cart"
)

const cartKeyPrefix = "cafepos:cart:"

type RedisCartStore struct {
	client *redis.Client
}

func NewRedisCartStore(addr string, password string, db int) *RedisCartStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCartStore{client: client}
}

func (c *RedisCartStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartStore) Close() error {
	return c.client.Close()
}

func (c *RedisCartStore) Get(ctx context.Context, sessionID string) (*cart.Cart, bool, error) {
	val, err := c.client.Get(ctx, cartKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stored cart.Cart
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return nil, false, err
	}
	if stored.Items == nil {
		stored.Items = []cart.Line{}
	}
	return &stored, true, nil
}

func (c *RedisCartStore) Set(ctx context.Context, sessionID string, value *cart.Cart, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cartKeyPrefix+sessionID, payload, ttl).Err()
}

func (c *RedisCartStore) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, cartKeyPrefix+sessionID).Err()
}
