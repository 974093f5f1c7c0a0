package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"KinLink/internal/model/dto"
	"KinLink/pkg/response"
)

type UserService interface {
	GetProfile(ctx context.Context, userID string) (*dto.UserProfileData, error)
}

type UserHandler struct {
	svc UserService
}

func NewUserHandler(svc UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// GetProfile 获取用户资料
// GET /v1/users/me
func (h *UserHandler) GetProfile(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	data, err := h.svc.GetProfile(ctx, userID)
	if err != nil {
		fail(ctx, c, err, "Failed to get user profile")
		return
	}
	response.Success(ctx, c, data)
}
