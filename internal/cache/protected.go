package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	ri "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"KinLink/pkg/breaker"
	"KinLink/pkg/logger"
	"KinLink/storage/redis"
)

const (
	// 空值缓存标识
	emptyValueFlag = "__EMPTY__"
	// 空值缓存TTL，较短时间避免长期占用
	emptyValueTTL = 5 * time.Minute
)

// RedisBreaker Redis 缓存熔断器：连续失败5次后熔断，30秒后尝试恢复
var RedisBreaker = breaker.New("redis_cache", 5, 30*time.Second)

// ProtectedCache 带空值保护、随机抖动和熔断的读穿缓存。
// 缓存不可用时 Get 视为未命中，调用方回源数据库。
type ProtectedCache struct {
	keyPrefix string
	ttl       time.Duration
	emptyTTL  time.Duration
	breaker   *breaker.CircuitBreaker
}

// NewProtectedCache 创建受保护的缓存实例
func NewProtectedCache(keyPrefix string, ttl time.Duration) *ProtectedCache {
	return &ProtectedCache{
		keyPrefix: keyPrefix,
		ttl:       ttl,
		emptyTTL:  emptyValueTTL,
		breaker:   RedisBreaker,
	}
}

// Set 写入缓存；value 为 nil 时写入空值标识
func (pc *ProtectedCache) Set(ctx context.Context, key string, value interface{}) error {
	data, ttl := emptyValueFlag, pc.emptyTTL
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal cache value: %w", err)
		}
		data, ttl = string(raw), pc.jitteredTTL()
	}

	return pc.breaker.Call(ctx, func(ctx context.Context) error {
		return redis.Client().Set(ctx, redis.Key(pc.keyPrefix, key), data, ttl).Err()
	})
}

// Get 读取缓存。hit=true 且 empty=true 表示命中空值。
func (pc *ProtectedCache) Get(ctx context.Context, key string, dest interface{}) (hit bool, empty bool, err error) {
	var data string
	err = pc.breaker.Call(ctx, func(ctx context.Context) error {
		var getErr error
		data, getErr = redis.Client().Get(ctx, redis.Key(pc.keyPrefix, key)).Result()
		if errors.Is(getErr, ri.Nil) {
			return nil
		}
		return getErr
	})
	if err != nil {
		logger.Logger.Warn("Cache read failed, falling back to source",
			zap.String("prefix", pc.keyPrefix),
			zap.String("key", key),
			zap.Error(err),
		)
		return false, false, nil
	}

	switch data {
	case "":
		return false, false, nil
	case emptyValueFlag:
		return true, true, nil
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, false, nil
}

// Delete 删除缓存，写路径在落库后调用
func (pc *ProtectedCache) Delete(ctx context.Context, key string) error {
	return pc.breaker.Call(ctx, func(ctx context.Context) error {
		return redis.Client().Del(ctx, redis.Key(pc.keyPrefix, key)).Err()
	})
}

// jitteredTTL 给 TTL 加上随机抖动，避免同一批 key 同时过期
func (pc *ProtectedCache) jitteredTTL() time.Duration {
	spread := int64(pc.ttl / 10)
	if spread <= 0 {
		return pc.ttl
	}
	return pc.ttl + time.Duration(rand.Int63n(spread))
}

// 预定义的缓存实例
var (
	OnboardingProgressCache = NewProtectedCache("onboarding:progress", 10*time.Minute)
	OnboardingAnswersCache  = NewProtectedCache("onboarding:answers", 10*time.Minute)
	UserProfileCache        = NewProtectedCache("user:profile", time.Hour)
)
