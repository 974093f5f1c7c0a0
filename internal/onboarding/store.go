package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"KinLink/pkg/logger"
)

// ErrEmptyUserID 调用方没有提供用户 id，属于编程错误
var ErrEmptyUserID = errors.New("onboarding: empty user id")

// ProgressStore 持有单个用户的步骤进度，持久化到本地 KV。
// 所有修改在同一用户的互斥锁内完成读-改-写。
type ProgressStore struct {
	kv      KV
	catalog *Catalog
	locks   *userLocks
	now     func() time.Time
}

type storeConfig struct {
	now func() time.Time
}

type StoreOption func(*storeConfig)

// WithClock 替换时间源，测试使用
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) { c.now = now }
}

func applyStoreOptions(opts []StoreOption) storeConfig {
	cfg := storeConfig{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func NewProgressStore(kv KV, catalog *Catalog, opts ...StoreOption) *ProgressStore {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	cfg := applyStoreOptions(opts)
	return &ProgressStore{
		kv:      kv,
		catalog: catalog,
		locks:   newUserLocks(),
		now:     cfg.now,
	}
}

func (s *ProgressStore) Catalog() *Catalog {
	return s.catalog
}

// Initialize 创建全新的进度记录并覆盖已有记录
func (s *ProgressStore) Initialize(ctx context.Context, userID string) (*OnboardingProgress, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	p := newProgress(s.catalog, userID, s.now())
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// LoadOrInitialize 在用户锁内读取记录，不存在时创建 LocalOnly 记录。已有记录不会被覆盖。
func (s *ProgressStore) LoadOrInitialize(ctx context.Context, userID string) (*OnboardingProgress, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	p, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	p = newProgress(s.catalog, userID, s.now())
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Load 返回最后一次持久化的记录；found=false 表示调用方需要 Initialize
func (s *ProgressStore) Load(ctx context.Context, userID string) (*OnboardingProgress, bool, error) {
	if err := checkUserID(userID); err != nil {
		return nil, false, err
	}

	p, err := s.read(ctx, userID)
	if err != nil || p == nil {
		return nil, false, err
	}
	return p, true, nil
}

// CompleteStep 标记步骤完成，幂等。未知步骤只记录日志。
func (s *ProgressStore) CompleteStep(ctx context.Context, userID, stepID string) (*OnboardingProgress, error) {
	p, _, err := s.completeStep(ctx, userID, stepID, false)
	return p, err
}

// SkipStep 与 CompleteStep 效果相同，但只允许跳过非必填步骤；跳过必填步骤不改变状态
func (s *ProgressStore) SkipStep(ctx context.Context, userID, stepID string) (*OnboardingProgress, error) {
	p, _, err := s.completeStep(ctx, userID, stepID, true)
	return p, err
}

// completeStep 返回的 changed 表示本地状态是否发生变化
func (s *ProgressStore) completeStep(ctx context.Context, userID, stepID string, skip bool) (*OnboardingProgress, bool, error) {
	var changed bool
	p, err := s.update(ctx, userID, func(p *OnboardingProgress) bool {
		idx := p.stepIndex(stepID)
		if idx < 0 {
			logger.Logger.Warn("Ignoring unknown onboarding step",
				zap.String("user_id", userID),
				zap.String("step_id", stepID),
			)
			return false
		}

		step := p.Steps[idx]
		if skip && step.IsRequired {
			logger.Logger.Info("Rejected skip of required onboarding step",
				zap.String("user_id", userID),
				zap.String("step_id", stepID),
			)
			return false
		}
		if step.IsCompleted {
			return false
		}

		p.Steps[idx].IsCompleted = true
		p.CompletedStepIDs.Add(stepID)
		changed = true
		return true
	})
	return p, changed, err
}

// Reset 丢弃全部进度并重新初始化，是唯一会让 CompletedStepIDs 缩小的操作
func (s *ProgressStore) Reset(ctx context.Context, userID string) (*OnboardingProgress, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	prev, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := newProgress(s.catalog, userID, s.now())
	if prev != nil {
		p.Revision = prev.Revision + 1
	}
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}

	logger.Logger.Info("Onboarding progress reset", zap.String("user_id", userID))
	return p.Clone(), nil
}

// Reconcile 将远端快照以并集方式合并进本地记录。
// 远端已经覆盖本地全部完成项时状态变为 Synced，否则为 Diverged。
func (s *ProgressStore) Reconcile(ctx context.Context, userID string, remote *RemoteProgress) (*OnboardingProgress, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	local, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if local == nil {
		local = newProgress(s.catalog, userID, s.now())
	}

	merged := MergeProgress(s.catalog, local, remote)
	if merged.Revision != local.Revision || merged.SyncState != local.SyncState ||
		len(merged.CompletedStepIDs) != len(local.CompletedStepIDs) {
		if err := s.save(ctx, merged); err != nil {
			return nil, err
		}
	}
	return merged.Clone(), nil
}

// MarkSynced 远端确认了 revision 对应的写入。期间若有更新的本地修改则保持 Diverged。
func (s *ProgressStore) MarkSynced(ctx context.Context, userID string, revision int64) (*OnboardingProgress, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	p, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	if p.Revision != revision || p.SyncState == StateSynced {
		return p.Clone(), nil
	}

	p.SyncState = StateSynced
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// update 在用户锁内执行 fn；fn 返回 true 时记录被视为本地修改
func (s *ProgressStore) update(ctx context.Context, userID string, fn func(p *OnboardingProgress) bool) (*OnboardingProgress, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	p, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	created := false
	if p == nil {
		p = newProgress(s.catalog, userID, s.now())
		created = true
	}

	if fn(p) {
		p.recompute()
		p.LastUpdated = s.now()
		p.Revision++
		p.SyncState = StateDiverged
	} else if !created {
		return p.Clone(), nil
	}

	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (s *ProgressStore) read(ctx context.Context, userID string) (*OnboardingProgress, error) {
	data, err := s.kv.Get(ctx, ProgressKey(userID))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read onboarding progress: %w", err)
	}

	var p OnboardingProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed onboarding progress for user %s: %w", userID, err)
	}
	if p.SyncState == "" {
		p.SyncState = StateLocalOnly
	}
	p.UserID = userID
	p.rebase(s.catalog)
	return &p, nil
}

func (s *ProgressStore) save(ctx context.Context, p *OnboardingProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal onboarding progress: %w", err)
	}
	if err := s.kv.Set(ctx, ProgressKey(p.UserID), data); err != nil {
		return fmt.Errorf("failed to persist onboarding progress: %w", err)
	}
	return nil
}

func checkUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return nil
}
