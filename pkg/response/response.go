package response

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"KinLink/pkg/errors"
)

// ErrorResponse 统一的错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// SuccessResponse 统一的成功响应格式
type SuccessResponse struct {
	Data interface{}            `json:"data"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// StatusOf 业务错误码到 HTTP 状态码的映射，未知错误为 500
func StatusOf(err error) int {
	var def errors.Definition
	if !stderrors.As(err, &def) {
		return http.StatusInternalServerError
	}

	switch def.Code {
	case errors.TooManyRequests.Code:
		return http.StatusTooManyRequests // 429
	case errors.InvalidRequest.Code, errors.InvalidUserID.Code,
		errors.OnboardingStepInvalid.Code, errors.OnboardingQuestionInvalid.Code,
		errors.OnboardingAnswerInvalid.Code:
		return http.StatusBadRequest // 400
	case errors.Unauthorized.Code:
		return http.StatusUnauthorized // 401
	case errors.UserNotFound.Code, errors.OnboardingProgressMissing.Code:
		return http.StatusNotFound // 404
	case errors.OnboardingNotReady.Code:
		return http.StatusConflict // 409
	default:
		return http.StatusInternalServerError // 500
	}
}

func detailOf(err error) ErrorDetail {
	var def errors.Definition
	if stderrors.As(err, &def) {
		return ErrorDetail{Code: def.Code, Message: def.Message}
	}
	// 内部错误不向客户端暴露原始信息
	return ErrorDetail{Code: errors.Internal.Code, Message: errors.Internal.Message}
}

// Error 返回错误响应
func Error(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(StatusOf(err), ErrorResponse{Error: detailOf(err)})
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	detail := detailOf(err)
	detail.Details = details
	c.JSON(StatusOf(err), ErrorResponse{Error: detail})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta map[string]interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: meta,
	})
}

func BindError(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    errors.InvalidRequest.Code,
			Message: err.Error(),
		},
	})
}

// NoContent 返回 204 No Content
func NoContent(ctx context.Context, c *app.RequestContext) {
	c.Status(http.StatusNoContent)
}
