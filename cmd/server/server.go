package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"KinLink/config"
	"KinLink/internal/cache"
	"KinLink/internal/handler"
	"KinLink/internal/middleware"
	"KinLink/internal/onboarding"
	"KinLink/internal/queue"
	"KinLink/internal/repository"
	"KinLink/internal/router"
	"KinLink/internal/service"
	dbotel "KinLink/pkg/database"
	"KinLink/pkg/logger"
	"KinLink/pkg/metrics"
	mqotel "KinLink/pkg/mq"
	kinotel "KinLink/pkg/otel"
	"KinLink/pkg/snowflake"
	"KinLink/pkg/token"
	"KinLink/storage"
	"KinLink/storage/database"
	"KinLink/storage/mq"
)

var version = "dev"

func main() {
	// 日志部分
	logger.Init()
	defer logger.Sync()

	if err := config.Validate(); err != nil {
		logger.Logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Logger.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if config.Cfg.TracingEnabled {
		shutdown, err := kinotel.InitOpenTelemetry(ctx, kinotel.ConfigFromEnv(version))
		if err != nil {
			logger.Logger.Fatal("Failed to initialize OpenTelemetry", zap.Error(err))
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
			}
		}()
	}
	initMetrics()

	// 初始化存储层，记得关闭外部连接
	if err := storage.Init(queue.Topologies()...); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	if err := token.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize token package", zap.Error(err))
	} // token 在中间件前初始化，middleware 依赖 token

	if err := middleware.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize middlewares", zap.Error(err))
	}

	handlers := buildHandlers()

	logger.Logger.Info("Server starting",
		zap.String("service", config.Cfg.ServiceName),
		zap.String("port", config.Cfg.ServerPort),
		zap.String("environment", config.Cfg.Environment),
	)

	addr := net.JoinHostPort(config.Cfg.ServerHost, config.Cfg.ServerPort)
	opts := []hertzconfig.Option{server.WithHostPorts(addr)}
	var tracingMW app.HandlerFunc
	if config.Cfg.TracingEnabled {
		var tracer hertzconfig.Option
		tracer, tracingMW = middleware.NewServerTracerConfig()
		opts = append(opts, tracer)
	}

	h := server.Default(opts...)
	if tracingMW != nil {
		h.Use(tracingMW)
	}
	router.Register(h, handlers, middleware.AuthMiddleware())

	// 优雅关闭：在单独的 goroutine 中监听关闭信号并调用 Shutdown
	go func() {
		<-ctx.Done()
		logger.Logger.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}()

	logger.Logger.Info("HTTP server listening", zap.String("addr", addr))

	h.Spin()

	logger.Logger.Info("Server shutting down gracefully")
}

func buildHandlers() router.Handlers {
	repos := repository.NewRepos(database.DB())
	calc := onboarding.NewCalculator(nil, onboarding.PolicyFromConfig(config.Cfg))

	onboardingSvc := service.NewOnboardingService(service.OnboardingDeps{
		Users:         repos.Users,
		Progress:      repos.Progress,
		Answers:       repos.Answers,
		Completions:   repos.Completions,
		Events:        queue.NewProducer(mq.Publisher{}),
		Calculator:    calc,
		Lock:          cache.WithLock,
		ProgressCache: cache.OnboardingProgressCache,
		AnswersCache:  cache.OnboardingAnswersCache,
		ProfileCache:  cache.UserProfileCache,
	})
	userSvc := service.NewUserService(repos.Users, cache.UserProfileCache)

	return router.Handlers{
		Onboarding: handler.NewOnboardingHandler(onboardingSvc),
		User:       handler.NewUserHandler(userSvc),
	}
}

// initMetrics 指标初始化失败不影响启动
func initMetrics() {
	name := config.Cfg.ServiceName
	steps := []struct {
		component string
		init      func() error
	}{
		{"onboarding", metrics.InitMetrics},
		{"http", func() error { return middleware.InitMetricsFromGlobal(name) }},
		{"database", func() error { return dbotel.InitDatabaseMetrics(otel.Meter(name + "/database")) }},
		{"mq", func() error { return mqotel.InitMQMetrics(otel.Meter(name + "/mq")) }},
	}
	for _, s := range steps {
		if err := s.init(); err != nil {
			logger.Logger.Warn("Failed to initialize metrics", zap.String("component", s.component), zap.Error(err))
		}
	}
}
