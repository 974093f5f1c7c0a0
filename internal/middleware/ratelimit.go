package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"KinLink/config"
	"KinLink/pkg/errors"
	"KinLink/pkg/logger"
	"KinLink/pkg/response"
	"KinLink/storage/redis"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 时间窗口
	Window time.Duration
	// 时间窗口内最大请求数
	MaxRequests int
	// 限流键前缀
	KeyPrefix string
	// 已认证时按用户限流，否则按 IP
	ByUserID bool
}

// GeneralRateLimitConfig 所有 /v1 接口共用，按 RATE_LIMIT_RPS 折算为每分钟
func GeneralRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:      time.Minute,
		MaxRequests: config.Cfg.RateLimitRPS * 60,
		KeyPrefix:   "rate:limit",
		ByUserID:    true,
	}
}

// OnboardingWriteRateLimitConfig 答题和进度写入接口
var OnboardingWriteRateLimitConfig = RateLimitConfig{
	Window:      time.Minute,
	MaxRequests: 120,
	KeyPrefix:   "rate:onboarding",
	ByUserID:    true,
}

// RateLimiter 基于 redis zset 的滑动窗口限流器
type RateLimiter struct {
	client redislib.Cmdable
	config RateLimitConfig
	now    func() time.Time
}

func NewRateLimiter(client redislib.Cmdable, cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{client: client, config: cfg, now: time.Now}
}

func (rl *RateLimiter) key(ctx context.Context, c *app.RequestContext) string {
	if rl.config.ByUserID {
		if userID, ok := GetUserID(ctx, c); ok {
			return redis.Key(rl.config.KeyPrefix, "user", userID)
		}
	}
	return redis.Key(rl.config.KeyPrefix, "ip", c.ClientIP())
}

// Allow 返回窗口内（含本次）的请求数
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	now := rl.now()
	windowStart := now.Add(-rl.config.Window)

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redislib.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, rl.config.Window+10*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute pipeline: %w", err)
	}

	count := int(card.Val())
	return count <= rl.config.MaxRequests, count, nil
}

// RateLimitMiddleware redis 不可用时放行，只记录日志
func RateLimitMiddleware(client redislib.Cmdable, cfg RateLimitConfig) app.HandlerFunc {
	limiter := NewRateLimiter(client, cfg)

	return func(ctx context.Context, c *app.RequestContext) {
		allowed, count, err := limiter.Allow(ctx, limiter.key(ctx, c))
		if err != nil {
			logger.Logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
			c.Next(ctx)
			return
		}

		remaining := cfg.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Abort()
			response.Error(ctx, c, errors.TooManyRequests)
			return
		}

		c.Next(ctx)
	}
}

// GeneralRateLimitMiddleware 使用全局 redis 客户端；RATE_LIMIT_ENABLED=false 时不限流
func GeneralRateLimitMiddleware() app.HandlerFunc {
	if !config.Cfg.RateLimitEnabled {
		return passThrough
	}
	return RateLimitMiddleware(redis.Client(), GeneralRateLimitConfig())
}

func OnboardingWriteRateLimitMiddleware() app.HandlerFunc {
	if !config.Cfg.RateLimitEnabled {
		return passThrough
	}
	return RateLimitMiddleware(redis.Client(), OnboardingWriteRateLimitConfig)
}

func passThrough(ctx context.Context, c *app.RequestContext) {
	c.Next(ctx)
}
