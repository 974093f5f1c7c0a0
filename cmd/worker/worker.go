package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"KinLink/config"
	"KinLink/internal/cache"
	"KinLink/internal/onboarding"
	"KinLink/internal/queue"
	"KinLink/internal/repository"
	"KinLink/internal/service"
	"KinLink/pkg/logger"
	"KinLink/pkg/metrics"
	mqotel "KinLink/pkg/mq"
	kinotel "KinLink/pkg/otel"
	"KinLink/pkg/snowflake"
	"KinLink/storage"
	"KinLink/storage/database"
	"KinLink/storage/mq"
)

var version = "dev"

func main() {
	logger.Init()
	defer logger.Sync()

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
		cfg := kinotel.ConfigFromEnv(version)
		cfg.ServiceName += "-worker"
		shutdown, err := kinotel.InitOpenTelemetry(ctx, cfg)
		if err != nil {
			logger.Logger.Fatal("Failed to initialize OpenTelemetry", zap.Error(err))
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
			}
		}()
	}
	if err := metrics.InitMetrics(); err != nil {
		logger.Logger.Warn("Failed to initialize onboarding metrics", zap.Error(err))
	}
	if err := mqotel.InitMQMetrics(otel.Meter(config.Cfg.ServiceName + "/mq")); err != nil {
		logger.Logger.Warn("Failed to initialize mq metrics", zap.Error(err))
	}

	if err := storage.Init(queue.Topologies()...); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	// machineID 与 server 区分开，避免生成相同的消息 ID
	if err := snowflake.Init((config.Cfg.SnowflakeMachineID+1)%32, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	repos := repository.NewRepos(database.DB())
	users := service.NewUserService(repos.Users, cache.UserProfileCache)
	onboardingSvc := service.NewOnboardingService(service.OnboardingDeps{
		Users:       repos.Users,
		Progress:    repos.Progress,
		Answers:     repos.Answers,
		Completions: repos.Completions,
		Events:      queue.NewProducer(mq.Publisher{}),
		Calculator:  onboarding.NewCalculator(nil, onboarding.PolicyFromConfig(config.Cfg)),
		Lock:        cache.WithLock,
	})

	logger.Logger.Info("Worker service starting",
		zap.String("service", config.Cfg.ServiceName+"-worker"),
		zap.String("environment", config.Cfg.Environment),
	)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		h := queue.NewOnboardingCompletedHandler(users, cache.MessageDeduper{ProcessingTTL: 5 * time.Minute})
		if err := queue.StartOnboardingCompletedConsumer(ctx, h); err != nil {
			logger.Logger.Error("Onboarding completed consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		runRepublisher(ctx, onboardingSvc)
	}()

	wg.Wait()
	logger.Logger.Info("Worker service shutting down gracefully")
}

// runRepublisher 定期补发未成功投递的完成事件
func runRepublisher(ctx context.Context, svc *service.OnboardingService) {
	ticker := time.NewTicker(config.Cfg.RepublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.RepublishPending(ctx, config.Cfg.RepublishAfter, config.Cfg.RepublishBatch)
			if err != nil {
				logger.Logger.Warn("Failed to republish pending completions", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Logger.Info("Republished pending completions", zap.Int("count", n))
			}
		}
	}
}
