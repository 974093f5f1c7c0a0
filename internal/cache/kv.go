package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	ri "github.com/redis/go-redis/v9"

	"KinLink/internal/onboarding"
)

// KV 用 Redis 作为引导记录的本地存储，适合多个进程共享同一份缓存
type KV struct {
	client ri.Cmdable
	prefix string
	ttl    time.Duration
}

// NewKV ttl 为 0 表示不过期
func NewKV(client ri.Cmdable, prefix string, ttl time.Duration) *KV {
	return &KV{client: client, prefix: prefix, ttl: ttl}
}

func (k *KV) key(key string) string {
	if k.prefix == "" {
		return key
	}
	return k.prefix + ":" + key
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := k.client.Get(ctx, k.key(key)).Bytes()
	if errors.Is(err, ri.Nil) {
		return nil, onboarding.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	if err := k.client.Set(ctx, k.key(key), value, k.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (k *KV) Remove(ctx context.Context, key string) error {
	if err := k.client.Del(ctx, k.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
