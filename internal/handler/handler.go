package handler

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"KinLink/internal/middleware"
	"KinLink/pkg/errors"
	"KinLink/pkg/logger"
	"KinLink/pkg/response"
)

// currentUser 取出鉴权中间件写入的 public_id，缺失时直接返回 401
func currentUser(ctx context.Context, c *app.RequestContext) (string, bool) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return "", false
	}
	return userID, true
}

// fail 5xx 记录日志，业务错误直接返回
func fail(ctx context.Context, c *app.RequestContext, err error, msg string) {
	if response.StatusOf(err) >= http.StatusInternalServerError {
		logger.Logger.Error(msg,
			zap.String("path", string(c.Path())),
			zap.String("request_id", string(c.GetHeader(middleware.RequestIDHeader))),
			zap.Error(err),
		)
	}
	response.Error(ctx, c, err)
}
