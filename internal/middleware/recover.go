package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"KinLink/config"
	"KinLink/pkg/errors"
	"KinLink/pkg/logger"
	"KinLink/pkg/response"
)

// RecoverConfig recover 中间件配置
type RecoverConfig struct {
	// 是否在日志中输出堆栈
	EnableStackTrace bool
	// 是否在响应中返回 panic 详情，生产环境应关闭
	ExposeDetails bool
	// 是否记录小于 1KB 的请求体
	LogRequestBody bool
	// 是否在 span 中记录异常
	RecordInSpan bool
}

// NewRecoverConfig 按运行环境生成默认配置
func NewRecoverConfig() RecoverConfig {
	return RecoverConfig{
		EnableStackTrace: true,
		ExposeDetails:    !config.Cfg.IsProduction(),
		LogRequestBody:   !config.Cfg.IsProduction(),
		RecordInSpan:     true,
	}
}

// RecoverMiddleware 创建 recover 中间件
func RecoverMiddleware() app.HandlerFunc {
	return RecoverMiddlewareWithConfig(NewRecoverConfig())
}

func RecoverMiddlewareWithConfig(cfg RecoverConfig) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				handlePanic(ctx, c, err, cfg)
			}
		}()

		c.Next(ctx)
	}
}

func handlePanic(ctx context.Context, c *app.RequestContext, err interface{}, cfg RecoverConfig) {
	var stack []byte
	if cfg.EnableStackTrace {
		stack = filterStack(debug.Stack())
	}

	logPanic(ctx, c, err, stack, cfg)

	if cfg.RecordInSpan {
		span := trace.SpanFromContext(ctx)
		span.RecordError(fmt.Errorf("panic: %v", err), trace.WithStackTrace(false))
		span.SetStatus(codes.Error, "panic recovered")
	}

	c.Abort()
	if !cfg.ExposeDetails {
		response.Error(ctx, c, errors.Internal)
		return
	}

	details := map[string]interface{}{
		"panic":     fmt.Sprintf("%v", err),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if len(stack) > 0 {
		details["stack"] = string(stack)
	}
	response.ErrorWithDetails(ctx, c, errors.Internal, details)
}

// filterStack 去掉 runtime 和 debug 包的帧
func filterStack(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")
	filtered := make([]string, 0, len(lines))

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "runtime/") || strings.HasPrefix(line, "panic(") {
			// 函数行和紧随其后的文件行一起跳过
			i++
			continue
		}
		filtered = append(filtered, line)
	}

	return []byte(strings.Join(filtered, "\n"))
}

func logPanic(ctx context.Context, c *app.RequestContext, err interface{}, stack []byte, cfg RecoverConfig) {
	fields := []zap.Field{
		zap.String("panic", fmt.Sprintf("%v", err)),
		zap.String("path", string(c.Path())),
		zap.String("method", string(c.Method())),
		zap.String("client_ip", c.ClientIP()),
		zap.String("request_id", string(c.GetHeader(RequestIDHeader))),
	}

	if userID, exists := GetUserID(ctx, c); exists {
		fields = append(fields, zap.String("user_id", userID))
	}

	if cfg.LogRequestBody {
		body := c.Request.Body()
		if len(body) > 0 && len(body) < 1024 && strings.Contains(string(c.ContentType()), "json") {
			fields = append(fields, zap.ByteString("body", body))
		}
	}

	if len(stack) > 0 {
		fields = append(fields, zap.ByteString("stack", stack))
	}

	logger.Logger.Error("[PANIC RECOVERED]", fields...)
}
