package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/route"

	"KinLink/internal/handler"
	"KinLink/internal/middleware"
	"KinLink/pkg/response"
)

// Handlers 路由依赖的 handler 集合
type Handlers struct {
	Onboarding *handler.OnboardingHandler
	User       *handler.UserHandler
}

// Register 注册全局中间件和 /v1 路由。auth 为鉴权中间件，便于测试替换。
func Register(r route.IRouter, h Handlers, auth app.HandlerFunc) {
	r.Use(middleware.RecoverMiddleware())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.OpenTelemetryMiddleware())

	r.GET("/healthz", func(ctx context.Context, c *app.RequestContext) {
		response.Success(ctx, c, map[string]string{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(middleware.GeneralRateLimitMiddleware())

	// 用户相关路由
	users := v1.Group("/users")
	users.Use(auth) // 需要鉴权的路由组
	{
		users.GET("/me", h.User.GetProfile)

		users.GET("/onboarding-progress", h.Onboarding.GetProgress)
		users.POST("/onboarding-progress", middleware.OnboardingWriteRateLimitMiddleware(), h.Onboarding.SaveProgress)

		onboarding := users.Group("/onboarding")
		{
			onboarding.GET("/answers", h.Onboarding.ListAnswers)
			onboarding.POST("/answers", middleware.OnboardingWriteRateLimitMiddleware(), h.Onboarding.SaveAnswer) // 答案提交限流
			onboarding.POST("/answers/batch", middleware.OnboardingWriteRateLimitMiddleware(), h.Onboarding.SaveAnswers)
			onboarding.POST("/complete", h.Onboarding.Complete)
		}
	}
}
