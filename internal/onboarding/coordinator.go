package onboarding

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"KinLink/pkg/breaker"
	"KinLink/pkg/logger"
	"KinLink/pkg/metrics"
)

// ErrNotReady 完成度未达到阈值时不能标记完成
var ErrNotReady = errors.New("onboarding: completion threshold not reached")

const (
	DefaultRemoteTimeout = 10 * time.Second

	reasonNoRemote    = "remote not configured"
	reasonCircuitOpen = "circuit open"
	reasonTimeout     = "timeout"
)

// SyncStatus 一次远端写入的结果
type SyncStatus string

const (
	SyncOK       SyncStatus = "ok"
	SyncDeferred SyncStatus = "deferred"
)

// SyncResult 本地写入总是先完成；Deferred 表示远端未确认，下一次显式调用会重试
type SyncResult struct {
	Status SyncStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

func (r SyncResult) OK() bool {
	return r.Status == SyncOK
}

func syncOK() SyncResult {
	return SyncResult{Status: SyncOK}
}

func syncDeferred(reason string) SyncResult {
	return SyncResult{Status: SyncDeferred, Reason: reason}
}

// Snapshot 客户端展示所需的全部派生数据，只读本地
type Snapshot struct {
	Progress     *OnboardingProgress `json:"progress"`
	Percentage   int                 `json:"percentage"`
	NextStep     *OnboardingStep     `json:"next_step,omitempty"`
	Answers      *AnswerState        `json:"answers"`
	Summary      CompletionSummary   `json:"summary"`
	NextQuestion *Question           `json:"next_question,omitempty"`
}

// Coordinator 负责本地记录与远端的同步。
// 本地写入同步完成，远端写入在锁外进行并受超时与熔断器约束。
type Coordinator struct {
	progress *ProgressStore
	answers  *AnswerStore
	remote   Remote
	breaker  *breaker.CircuitBreaker
	timeout  time.Duration

	wg sync.WaitGroup
}

type CoordinatorOption func(*Coordinator)

// WithRemoteTimeout 单次远端调用的超时
func WithRemoteTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithBreaker(cb *breaker.CircuitBreaker) CoordinatorOption {
	return func(c *Coordinator) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

// NewCoordinator remote 为 nil 时所有远端写入都返回 Deferred
func NewCoordinator(progress *ProgressStore, answers *AnswerStore, remote Remote, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		progress: progress,
		answers:  answers,
		remote:   remote,
		breaker:  breaker.New("onboarding_remote", 3, 30*time.Second),
		timeout:  DefaultRemoteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wait 等待所有后台刷新结束
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Load 立即返回本地进度（不存在则以 LocalOnly 初始化），并在后台刷新一次
func (c *Coordinator) Load(ctx context.Context, userID string) (*OnboardingProgress, error) {
	p, err := c.progress.LoadOrInitialize(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.background(ctx, "refresh_progress", userID, func(ctx context.Context) error {
		_, _, err := c.Refresh(ctx, userID)
		return err
	})
	return p, nil
}

// Refresh 拉取远端进度并合并。合并后远端不能覆盖本地时推送本地结果。
func (c *Coordinator) Refresh(ctx context.Context, userID string) (*OnboardingProgress, SyncResult, error) {
	if err := checkUserID(userID); err != nil {
		return nil, SyncResult{}, err
	}

	var remote *RemoteProgress
	res := c.call(ctx, "fetch_progress", userID, func(ctx context.Context) error {
		var err error
		remote, err = c.remote.FetchProgress(ctx, userID)
		return err
	})
	if !res.OK() {
		p, _, err := c.progress.Load(ctx, userID)
		return p, res, err
	}

	p, err := c.progress.Reconcile(ctx, userID, remote)
	if err != nil {
		return nil, SyncResult{}, err
	}
	metrics.RecordMerge(ctx, "progress", string(p.SyncState))

	if p.SyncState == StateSynced {
		return p, syncOK(), nil
	}
	return c.pushProgress(ctx, userID, p)
}

// CompleteStep 本地标记完成后推送一次远端
func (c *Coordinator) CompleteStep(ctx context.Context, userID, stepID string) (*OnboardingProgress, SyncResult, error) {
	return c.completeStep(ctx, userID, stepID, false)
}

// SkipStep 跳过可选步骤；必填步骤不会被跳过
func (c *Coordinator) SkipStep(ctx context.Context, userID, stepID string) (*OnboardingProgress, SyncResult, error) {
	return c.completeStep(ctx, userID, stepID, true)
}

func (c *Coordinator) completeStep(ctx context.Context, userID, stepID string, skip bool) (*OnboardingProgress, SyncResult, error) {
	p, changed, err := c.progress.completeStep(ctx, userID, stepID, skip)
	if err != nil {
		return nil, SyncResult{}, err
	}
	if changed {
		metrics.RecordStepCompleted(ctx, stepID, skip)
	}
	if !changed && p.SyncState == StateSynced {
		return p, syncOK(), nil
	}
	return c.pushProgress(ctx, userID, p)
}

func (c *Coordinator) pushProgress(ctx context.Context, userID string, p *OnboardingProgress) (*OnboardingProgress, SyncResult, error) {
	payload := ToRemote(p)
	res := c.call(ctx, "push_progress", userID, func(ctx context.Context) error {
		return c.remote.PushProgress(ctx, userID, payload)
	})
	if !res.OK() {
		return p, res, nil
	}

	synced, err := c.progress.MarkSynced(ctx, userID, p.Revision)
	if err != nil {
		return p, res, err
	}
	if synced != nil {
		p = synced
	}
	return p, res, nil
}

// ResetProgress 仅重置本设备上的进度和答案，远端不受影响
func (c *Coordinator) ResetProgress(ctx context.Context, userID string) (*OnboardingProgress, error) {
	p, err := c.progress.Reset(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := c.answers.Reset(ctx, userID); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadAnswers 立即返回本地答案并在后台刷新一次
func (c *Coordinator) LoadAnswers(ctx context.Context, userID string) (*AnswerState, error) {
	st, _, err := c.answers.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.background(ctx, "refresh_answers", userID, func(ctx context.Context) error {
		_, _, err := c.RefreshAnswers(ctx, userID)
		return err
	})
	return st, nil
}

// RefreshAnswers 拉取远端答案，按问题合并，必要时把合并结果推回远端
func (c *Coordinator) RefreshAnswers(ctx context.Context, userID string) (*AnswerState, SyncResult, error) {
	if err := checkUserID(userID); err != nil {
		return nil, SyncResult{}, err
	}

	var remote []Answer
	res := c.call(ctx, "fetch_answers", userID, func(ctx context.Context) error {
		var err error
		remote, err = c.remote.FetchAnswers(ctx, userID)
		return err
	})
	if !res.OK() {
		st, _, err := c.answers.Load(ctx, userID)
		return st, res, err
	}

	st, err := c.answers.Reconcile(ctx, userID, remote)
	if err != nil {
		return nil, SyncResult{}, err
	}
	metrics.RecordMerge(ctx, "answers", string(st.SyncState))

	if st.SyncState == StateSynced {
		return st, syncOK(), nil
	}
	return c.pushAnswers(ctx, userID, st, nil)
}

// AnswerQuestion 记录单个答案
func (c *Coordinator) AnswerQuestion(ctx context.Context, userID string, answer Answer) (*AnswerState, SyncResult, error) {
	return c.AnswerQuestions(ctx, userID, []Answer{answer})
}

// AnswerQuestions 原子写入一批答案后推送远端。
// 写入前已同步且本次只新增一个修改时只推送该答案，否则推送全集。
func (c *Coordinator) AnswerQuestions(ctx context.Context, userID string, answers []Answer) (*AnswerState, SyncResult, error) {
	before, _, err := c.answers.Load(ctx, userID)
	if err != nil {
		return nil, SyncResult{}, err
	}

	st, changed, err := c.answers.Put(ctx, userID, answers)
	if err != nil {
		return nil, SyncResult{}, err
	}
	if !changed && (st.SyncState == StateSynced || st.Answers.Len() == 0) {
		return st, syncOK(), nil
	}

	var single *Answer
	if changed && len(answers) == 1 && before.SyncState == StateSynced && st.Revision == before.Revision+1 {
		if a, ok := st.Answers.Get(answers[0].QuestionID); ok {
			single = &a
			metrics.RecordAnswers(ctx, string(a.Phase), 1)
		}
	} else if changed {
		metrics.RecordAnswers(ctx, string(st.Phase), len(answers))
	}
	return c.pushAnswers(ctx, userID, st, single)
}

func (c *Coordinator) pushAnswers(ctx context.Context, userID string, st *AnswerState, single *Answer) (*AnswerState, SyncResult, error) {
	var res SyncResult
	if single != nil {
		answer := *single
		res = c.call(ctx, "save_answer", userID, func(ctx context.Context) error {
			return c.remote.SaveAnswer(ctx, userID, answer)
		})
	} else {
		batch := st.Answers.List()
		res = c.call(ctx, "save_answers", userID, func(ctx context.Context) error {
			return c.remote.SaveAnswers(ctx, userID, batch)
		})
	}
	if !res.OK() {
		return st, res, nil
	}

	synced, err := c.answers.MarkSynced(ctx, userID, st.Revision)
	if err != nil {
		return st, res, err
	}
	return synced, res, nil
}

// CompleteOnboarding 完成度达到阈值后标记完成并通知远端。
// 未达到阈值返回 ErrNotReady，状态不变。
func (c *Coordinator) CompleteOnboarding(ctx context.Context, userID string) (*AnswerState, SyncResult, error) {
	st, _, err := c.answers.Load(ctx, userID)
	if err != nil {
		return nil, SyncResult{}, err
	}

	summary := c.answers.Calculator().Summarize(st.Answers.IDs())
	if !summary.IsComplete {
		logger.Logger.Info("Onboarding completion rejected",
			zap.String("user_id", userID),
			zap.Int("total_percent", summary.TotalPercent),
		)
		return st, SyncResult{}, ErrNotReady
	}

	if st, err = c.answers.MarkCompleted(ctx, userID, false); err != nil {
		return nil, SyncResult{}, err
	}
	if st.CompletionSynced {
		return st, syncOK(), nil
	}

	// 远端按自己保存的答案判断是否完成，先补齐答案
	if st.SyncState != StateSynced {
		var res SyncResult
		if st, res, err = c.pushAnswers(ctx, userID, st, nil); err != nil || !res.OK() {
			return st, res, err
		}
	}

	res := c.call(ctx, "mark_complete", userID, func(ctx context.Context) error {
		return c.remote.MarkComplete(ctx, userID)
	})
	if !res.OK() {
		return st, res, nil
	}

	if st, err = c.answers.MarkCompleted(ctx, userID, true); err != nil {
		return nil, res, err
	}
	metrics.RecordOnboardingCompleted(ctx, "client")
	return st, res, nil
}

// Snapshot 只读本地数据计算展示信息，不触发远端调用也不写入
func (c *Coordinator) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	p, found, err := c.progress.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		p = newProgress(c.progress.Catalog(), userID, c.progress.now())
	}

	st, _, err := c.answers.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	calc := c.answers.Calculator()
	answered := st.Answers.IDs()
	snap := &Snapshot{
		Progress:   p,
		Percentage: Percentage(p),
		Answers:    st,
		Summary:    calc.Summarize(answered),
	}
	if step, ok := NextStep(p); ok {
		snap.NextStep = &step
	}
	if q, ok := NextQuestion(calc.Catalog(), answered); ok {
		snap.NextQuestion = &q
	}
	return snap, nil
}

// call 执行一次受超时和熔断器约束的远端调用，失败只降级为 Deferred
func (c *Coordinator) call(ctx context.Context, operation, userID string, fn func(ctx context.Context) error) SyncResult {
	if c.remote == nil {
		return syncDeferred(reasonNoRemote)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// 远端明确拒绝说明链路正常，不计入熔断失败，但结果仍是 Deferred
	var rejected error
	start := time.Now()
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if isRejected(err) {
				rejected = err
				return nil
			}
			return err
		}
		return nil
	})
	elapsed := time.Since(start)
	if err == nil {
		err = rejected
	}
	if err == nil {
		metrics.RecordSync(ctx, operation, string(SyncOK), elapsed)
		return syncOK()
	}

	reason := err.Error()
	switch {
	case errors.Is(err, breaker.ErrOpen):
		reason = reasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		reason = reasonTimeout
	}
	logger.Logger.Warn("Onboarding remote call deferred",
		zap.String("operation", operation),
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	metrics.RecordSync(ctx, operation, string(SyncDeferred), elapsed)
	return syncDeferred(reason)
}

// RejectedError 由 Remote 实现返回，表示请求已送达但被远端拒绝（例如 4xx 校验失败）
type RejectedError interface {
	error
	Rejected() bool
}

func isRejected(err error) bool {
	var r RejectedError
	return errors.As(err, &r) && r.Rejected()
}

// background 启动一次被 Wait 跟踪的后台任务，不继承调用方的取消
func (c *Coordinator) background(ctx context.Context, operation, userID string, fn func(ctx context.Context) error) {
	if c.remote == nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(context.WithoutCancel(ctx)); err != nil {
			logger.Logger.Error("Background onboarding refresh failed",
				zap.String("operation", operation),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}()
}
