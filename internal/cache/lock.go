package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	ri "github.com/redis/go-redis/v9"

	"KinLink/storage/redis"
)

// 分布式锁：同一用户的合并写入在多个 API 实例间串行
const (
	lockPrefix = "lock"

	lockRetryInterval = 20 * time.Millisecond
)

// ErrLockTimeout 在 context 截止前没有拿到锁
var ErrLockTimeout = errors.New("cache: lock wait timed out")

// unlockScript 只删除自己持有的锁
var unlockScript = ri.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// TryLock 尝试获取锁，成功时返回用于解锁的 token
func TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := redis.Client().SetNX(ctx, redis.Key(lockPrefix, key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Unlock 释放 token 对应的锁；锁已过期或被他人持有时不做任何事
func Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, redis.Client(), []string{redis.Key(lockPrefix, key)}, token).Err()
}

// WithLock 在锁内执行 fn，拿不到锁时按固定间隔重试直到 ctx 结束
func WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	for {
		token, ok, err := TryLock(ctx, key, ttl)
		if err != nil {
			return err
		}
		if ok {
			defer func() {
				// 解锁不受调用方取消影响
				_ = Unlock(context.WithoutCancel(ctx), key, token)
			}()
			return fn()
		}

		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-time.After(lockRetryInterval):
		}
	}
}
