package main

import (
	"context"
	"errors"
	"fmt"

	"KinLink/config"
	"KinLink/internal/apiclient"
	"KinLink/internal/cache"
	"KinLink/internal/localstore"
	"KinLink/internal/onboarding"
	"KinLink/pkg/breaker"
	"KinLink/storage/redis"
)

// cliEnv 一次命令执行期间使用的本地存储和同步器
type cliEnv struct {
	coord  *onboarding.Coordinator
	client *apiclient.Client
	closer func() error
}

func openEnv(ctx context.Context, opts *options) (*cliEnv, error) {
	if opts.userID == "" {
		return nil, errors.New("--user is required")
	}

	kv, closer, err := openKV(ctx, opts)
	if err != nil {
		return nil, err
	}

	policy := onboarding.PolicyFromConfig(config.Cfg)
	calc := onboarding.NewCalculator(nil, policy)

	env := &cliEnv{closer: closer}
	var remote onboarding.Remote
	if opts.apiURL != "" {
		clientOpts := []apiclient.Option{apiclient.WithTimeout(config.Cfg.OnboardingRemoteTimeout)}
		if config.Cfg.TracingEnabled {
			clientOpts = append(clientOpts, apiclient.WithTracing())
		}
		if env.client, err = apiclient.New(opts.apiURL, opts.token, clientOpts...); err != nil {
			_ = closer()
			return nil, fmt.Errorf("failed to create api client: %w", err)
		}
		remote = env.client
	}

	env.coord = onboarding.NewCoordinator(
		onboarding.NewProgressStore(kv, calc.Catalog()),
		onboarding.NewAnswerStore(kv, calc),
		remote,
		onboarding.WithRemoteTimeout(config.Cfg.OnboardingRemoteTimeout),
		onboarding.WithBreaker(breaker.New("onboarding_remote",
			config.Cfg.OnboardingBreakerMaxFailures,
			config.Cfg.OnboardingBreakerReset,
		)),
	)
	return env, nil
}

func openKV(_ context.Context, opts *options) (onboarding.KV, func() error, error) {
	switch opts.store {
	case "sqlite":
		s, err := localstore.Open(opts.dbPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		if err := redis.Init(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		return cache.NewKV(redis.Client(), redis.Key("device"), 0), func() error { return nil }, nil
	case "memory":
		return onboarding.NewMemoryKV(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", opts.store)
	}
}

// Close 等待后台刷新结束后关闭存储
func (e *cliEnv) Close() error {
	e.coord.Wait()
	return e.closer()
}
