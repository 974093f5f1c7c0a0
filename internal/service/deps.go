package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"KinLink/internal/model"
	pkgerrors "KinLink/pkg/errors"
	"KinLink/pkg/logger"
)

// api 中的 userID 都是 public_id

type UserRepo interface {
	GetByPublicID(ctx context.Context, publicID int64) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	Ensure(ctx context.Context, publicID int64) (*model.User, error)
	UpdateProfile(ctx context.Context, id int64, fields map[string]interface{}) error
	MarkActive(ctx context.Context, id int64, at time.Time) (bool, error)
}

type ProgressRepo interface {
	Get(ctx context.Context, userID int64) (*model.OnboardingProgress, error)
	Upsert(ctx context.Context, p *model.OnboardingProgress) error
}

type AnswerRepo interface {
	List(ctx context.Context, userID int64) ([]model.OnboardingAnswer, error)
	UpsertMany(ctx context.Context, answers []model.OnboardingAnswer) error
}

type CompletionRepo interface {
	Get(ctx context.Context, userID int64) (*model.OnboardingCompletion, error)
	CreateIfAbsent(ctx context.Context, c *model.OnboardingCompletion) (bool, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	ListUnpublished(ctx context.Context, olderThan time.Time, limit int) ([]model.OnboardingCompletion, error)
}

// Cache 由 cache.ProtectedCache 实现；empty 表示缓存了"不存在"
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (hit bool, empty bool, err error)
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
}

// EventPublisher 由 queue.Producer 实现
type EventPublisher interface {
	PublishOnboardingCompleted(ctx context.Context, msg model.OnboardingCompletedMessage) error
}

// Locker 由 cache.WithLock 实现，同一用户的写入在多个实例间串行
type Locker func(ctx context.Context, key string, ttl time.Duration, fn func() error) error

func parsePublicID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.InvalidUserID
	}
	return id, nil
}

func noLock(_ context.Context, _ string, _ time.Duration, fn func() error) error {
	return fn()
}

// 缓存读写失败只记录日志，不影响主流程
func cacheGet(ctx context.Context, c Cache, key string, dest interface{}) (hit, empty bool) {
	if c == nil {
		return false, false
	}
	hit, empty, err := c.Get(ctx, key, dest)
	if err != nil {
		logger.Logger.Warn("Failed to read cache", zap.String("key", key), zap.Error(err))
		return false, false
	}
	return hit, empty
}

func cacheSet(ctx context.Context, c Cache, key string, value interface{}) {
	if c == nil {
		return
	}
	if err := c.Set(ctx, key, value); err != nil {
		logger.Logger.Warn("Failed to write cache", zap.String("key", key), zap.Error(err))
	}
}

func cacheDelete(ctx context.Context, c Cache, key string) {
	if c == nil {
		return
	}
	if err := c.Delete(ctx, key); err != nil {
		logger.Logger.Warn("Failed to invalidate cache", zap.String("key", key), zap.Error(err))
	}
}

func cacheKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func lockKey(userID int64) string {
	return fmt.Sprintf("onboarding:%d", userID)
}
