package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"KinLink/internal/model/dto"
	"KinLink/pkg/response"
)

type OnboardingService interface {
	GetProgress(ctx context.Context, userID string) (*dto.OnboardingProgressData, error)
	SaveProgress(ctx context.Context, userID string, req dto.OnboardingProgressData) (*dto.OnboardingProgressData, error)
	ListAnswers(ctx context.Context, userID string) (*dto.OnboardingAnswersData, error)
	SaveAnswers(ctx context.Context, userID string, items []dto.OnboardingAnswerData) (*dto.OnboardingAnswersData, error)
	Complete(ctx context.Context, userID string) (*dto.CompleteOnboardingData, error)
}

type OnboardingHandler struct {
	svc OnboardingService
}

func NewOnboardingHandler(svc OnboardingService) *OnboardingHandler {
	return &OnboardingHandler{svc: svc}
}

// GetProgress 获取引导步骤进度
// GET /v1/users/onboarding-progress
func (h *OnboardingHandler) GetProgress(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	data, err := h.svc.GetProgress(ctx, userID)
	if err != nil {
		fail(ctx, c, err, "Failed to get onboarding progress")
		return
	}
	response.Success(ctx, c, data)
}

// SaveProgress 提交步骤进度，与已保存的进度取并集
// POST /v1/users/onboarding-progress
func (h *OnboardingHandler) SaveProgress(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req dto.OnboardingProgressData
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	data, err := h.svc.SaveProgress(ctx, userID, req)
	if err != nil {
		fail(ctx, c, err, "Failed to save onboarding progress")
		return
	}
	response.Success(ctx, c, data)
}

// ListAnswers 获取全部答案和完成度摘要
// GET /v1/users/onboarding/answers
func (h *OnboardingHandler) ListAnswers(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	data, err := h.svc.ListAnswers(ctx, userID)
	if err != nil {
		fail(ctx, c, err, "Failed to list onboarding answers")
		return
	}
	response.Success(ctx, c, data)
}

// SaveAnswer 提交单个答案
// POST /v1/users/onboarding/answers
func (h *OnboardingHandler) SaveAnswer(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req dto.OnboardingAnswerData
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	data, err := h.svc.SaveAnswers(ctx, userID, []dto.OnboardingAnswerData{req})
	if err != nil {
		fail(ctx, c, err, "Failed to save onboarding answer")
		return
	}
	response.Success(ctx, c, data)
}

// SaveAnswers 批量提交答案，任意一条不合法则整批拒绝
// POST /v1/users/onboarding/answers/batch
func (h *OnboardingHandler) SaveAnswers(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req dto.SaveOnboardingAnswersRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	data, err := h.svc.SaveAnswers(ctx, userID, req.Answers)
	if err != nil {
		fail(ctx, c, err, "Failed to save onboarding answers")
		return
	}
	response.Success(ctx, c, data)
}

// Complete 完成引导，完成度不足时返回 409
// POST /v1/users/onboarding/complete
func (h *OnboardingHandler) Complete(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	data, err := h.svc.Complete(ctx, userID)
	if err != nil {
		fail(ctx, c, err, "Failed to complete onboarding")
		return
	}
	response.Success(ctx, c, data)
}
