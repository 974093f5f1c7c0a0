package cache

import (
	"context"
	"fmt"
	"time"

	"KinLink/storage/redis"
)

const (
	messageProcessedPrefix = "msg:processed"
	processedTTL           = 7 * 24 * time.Hour
)

// TryMarkMessageProcessing 尝试原子性地标记消息正在处理（使用 SETNX）
// 返回 true 表示成功标记（首次处理），false 表示已被标记（重复消息或正在处理）
func TryMarkMessageProcessing(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	key := redis.Key(messageProcessedPrefix, messageID)
	if ttl <= 0 {
		ttl = processedTTL
	}

	result, err := redis.Client().SetNX(ctx, key, "processing", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark message as processing: %w", err)
	}
	return result, nil
}

// UnmarkMessageProcessing 取消消息处理标记（处理失败时调用，允许重试）
func UnmarkMessageProcessing(ctx context.Context, messageID string) error {
	return redis.Client().Del(ctx, redis.Key(messageProcessedPrefix, messageID)).Err()
}

// MarkMessageProcessed 标记消息已处理并延长 TTL
func MarkMessageProcessed(ctx context.Context, messageID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = processedTTL
	}
	return redis.Client().Set(ctx, redis.Key(messageProcessedPrefix, messageID), "completed", ttl).Err()
}

// MessageDeduper 把上面三个函数组合成消费者使用的幂等接口
type MessageDeduper struct {
	ProcessingTTL time.Duration
}

func (d MessageDeduper) TryMark(ctx context.Context, messageID string) (bool, error) {
	ttl := d.ProcessingTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return TryMarkMessageProcessing(ctx, messageID, ttl)
}

func (d MessageDeduper) Unmark(ctx context.Context, messageID string) error {
	return UnmarkMessageProcessing(ctx, messageID)
}

func (d MessageDeduper) MarkDone(ctx context.Context, messageID string) error {
	return MarkMessageProcessed(ctx, messageID, processedTTL)
}
