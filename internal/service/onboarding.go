package service

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"KinLink/internal/model"
	"KinLink/internal/model/dto"
	"KinLink/internal/onboarding"
	"KinLink/internal/queue"
	"KinLink/internal/repository"
	pkgerrors "KinLink/pkg/errors"
	"KinLink/pkg/logger"
	"KinLink/pkg/metrics"
)

const defaultLockTTL = 5 * time.Second

// profileColumns 必答阶段中可以回填到 users 表的问题，值为列名和长度上限
var profileColumns = map[string]struct {
	column string
	max    int
}{
	"preferred_name": {"preferred_name", 64},
	"full_name":      {"full_name", 128},
	"profile_photo":  {"avatar_url", 512},
	"family_role":    {"family_role", 32},
	"current_city":   {"current_city", 128},
	"hometown":       {"hometown", 128},
	"birth_date":     {"birth_date", 10},
}

// OnboardingDeps 构造 OnboardingService 所需的依赖，缓存和事件发布可以为空
type OnboardingDeps struct {
	Users       UserRepo
	Progress    ProgressRepo
	Answers     AnswerRepo
	Completions CompletionRepo
	Events      EventPublisher
	Calculator  *onboarding.Calculator
	Lock        Locker
	LockTTL     time.Duration

	ProgressCache Cache
	AnswersCache  Cache
	ProfileCache  Cache

	Now func() time.Time
}

// OnboardingService 远端权威数据：进度只增不减，答案按 answered_at 后写覆盖
type OnboardingService struct {
	users       UserRepo
	progress    ProgressRepo
	answers     AnswerRepo
	completions CompletionRepo
	events      EventPublisher
	calc        *onboarding.Calculator
	lock        Locker
	lockTTL     time.Duration

	progressCache Cache
	answersCache  Cache
	profileCache  Cache

	now func() time.Time
}

func NewOnboardingService(d OnboardingDeps) *OnboardingService {
	s := &OnboardingService{
		users:         d.Users,
		progress:      d.Progress,
		answers:       d.Answers,
		completions:   d.Completions,
		events:        d.Events,
		calc:          d.Calculator,
		lock:          d.Lock,
		lockTTL:       d.LockTTL,
		progressCache: d.ProgressCache,
		answersCache:  d.AnswersCache,
		profileCache:  d.ProfileCache,
		now:           d.Now,
	}
	if s.calc == nil {
		s.calc = onboarding.NewCalculator(nil, onboarding.DefaultPolicy())
	}
	if s.lock == nil {
		s.lock = noLock
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ========== 步骤进度 ==========

// GetProgress 没有记录时返回 OnboardingProgressMissing（404）
func (s *OnboardingService) GetProgress(ctx context.Context, userID string) (*dto.OnboardingProgressData, error) {
	publicID, err := parsePublicID(userID)
	if err != nil {
		return nil, err
	}

	var cached dto.OnboardingProgressData
	if hit, empty := cacheGet(ctx, s.progressCache, cacheKey(publicID), &cached); hit {
		if empty {
			return nil, pkgerrors.OnboardingProgressMissing
		}
		return &cached, nil
	}

	user, err := s.users.GetByPublicID(ctx, publicID)
	if err == nil {
		var rec *model.OnboardingProgress
		rec, err = s.progress.Get(ctx, user.ID)
		if err == nil {
			data, convErr := progressData(rec)
			if convErr != nil {
				return nil, convErr
			}
			cacheSet(ctx, s.progressCache, cacheKey(publicID), data)
			return data, nil
		}
	}

	if stderrors.Is(err, repository.ErrNotFound) {
		cacheSet(ctx, s.progressCache, cacheKey(publicID), nil)
		return nil, pkgerrors.OnboardingProgressMissing
	}
	return nil, fmt.Errorf("failed to query onboarding progress: %w", err)
}

// SaveProgress 与已保存的进度取并集，重复提交结果不变
func (s *OnboardingService) SaveProgress(ctx context.Context, userID string, req dto.OnboardingProgressData) (*dto.OnboardingProgressData, error) {
	publicID, err := parsePublicID(userID)
	if err != nil {
		return nil, err
	}
	for _, id := range req.CompletedSteps {
		if strings.TrimSpace(id) == "" {
			return nil, pkgerrors.OnboardingStepInvalid
		}
	}

	var out *dto.OnboardingProgressData
	err = s.lock(ctx, lockKey(publicID), s.lockTTL, func() error {
		user, err := s.users.Ensure(ctx, publicID)
		if err != nil {
			return fmt.Errorf("failed to ensure user: %w", err)
		}

		var stored onboarding.RemoteProgress
		rec, err := s.progress.Get(ctx, user.ID)
		switch {
		case err == nil:
			stored = remoteOf(rec)
		case stderrors.Is(err, repository.ErrNotFound):
			rec = &model.OnboardingProgress{UserID: user.ID}
		default:
			return fmt.Errorf("failed to query onboarding progress: %w", err)
		}

		catalog := s.calc.Catalog()
		base := onboarding.FromRemote(catalog, userID, stored)
		merged := onboarding.MergeProgress(catalog, base, &onboarding.RemoteProgress{
			CompletedSteps: req.CompletedSteps,
			LastUpdated:    req.LastUpdated,
		})
		if merged.LastUpdated.IsZero() {
			merged.LastUpdated = s.now()
		}

		result := onboarding.ToRemote(merged)
		steps, err := json.Marshal(result.CompletedSteps)
		if err != nil {
			return fmt.Errorf("failed to marshal completed steps: %w", err)
		}
		rec.CurrentStep = result.CurrentStep
		rec.CompletedSteps = datatypes.JSON(steps)
		rec.IsCompleted = result.IsCompleted
		rec.LastUpdated = result.LastUpdated.UTC()

		if err := s.progress.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("failed to save onboarding progress: %w", err)
		}

		outcome := "unchanged"
		if merged.Revision > base.Revision {
			outcome = "grew"
		}
		metrics.RecordMerge(ctx, "server_progress", outcome)

		out = &dto.OnboardingProgressData{
			CurrentStep:    result.CurrentStep,
			CompletedSteps: result.CompletedSteps,
			IsCompleted:    result.IsCompleted,
			LastUpdated:    rec.LastUpdated,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cacheDelete(ctx, s.progressCache, cacheKey(publicID))
	return out, nil
}

// ========== 问题答案 ==========

// ListAnswers 用户不存在时返回空答案和零进度
func (s *OnboardingService) ListAnswers(ctx context.Context, userID string) (*dto.OnboardingAnswersData, error) {
	publicID, err := parsePublicID(userID)
	if err != nil {
		return nil, err
	}

	var cached dto.OnboardingAnswersData
	if hit, empty := cacheGet(ctx, s.answersCache, cacheKey(publicID), &cached); hit && !empty {
		return &cached, nil
	}

	set, err := s.loadAnswers(ctx, publicID)
	if err != nil {
		return nil, err
	}

	data := s.answersData(set)
	cacheSet(ctx, s.answersCache, cacheKey(publicID), data)
	return data, nil
}

func (s *OnboardingService) loadAnswers(ctx context.Context, publicID int64) (*onboarding.AnswerSet, error) {
	user, err := s.users.GetByPublicID(ctx, publicID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return onboarding.NewAnswerSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	rows, err := s.answers.List(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query onboarding answers: %w", err)
	}
	return answerSetOf(rows), nil
}

// SaveAnswers 单个和批量提交共用。未知问题被忽略；同一问题较旧的答案不会覆盖较新的。
func (s *OnboardingService) SaveAnswers(ctx context.Context, userID string, items []dto.OnboardingAnswerData) (*dto.OnboardingAnswersData, error) {
	publicID, err := parsePublicID(userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, pkgerrors.InvalidRequest
	}

	incoming, err := s.validateAnswers(items)
	if err != nil {
		return nil, err
	}

	var data *dto.OnboardingAnswersData
	err = s.lock(ctx, lockKey(publicID), s.lockTTL, func() error {
		user, err := s.users.Ensure(ctx, publicID)
		if err != nil {
			return fmt.Errorf("failed to ensure user: %w", err)
		}

		rows, err := s.answers.List(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to query onboarding answers: %w", err)
		}

		merged, _, _ := onboarding.MergeAnswers(answerSetOf(rows), incoming)
		winners := winningAnswers(merged, incoming)

		if len(winners) > 0 {
			records := make([]model.OnboardingAnswer, len(winners))
			for i, a := range winners {
				records[i] = model.OnboardingAnswer{
					UserID:     user.ID,
					QuestionID: a.QuestionID,
					Phase:      string(a.Phase),
					Value:      datatypes.JSON(a.Value),
					AnsweredAt: a.AnsweredAt.UTC(),
				}
			}
			if err := s.answers.UpsertMany(ctx, records); err != nil {
				return fmt.Errorf("failed to save onboarding answers: %w", err)
			}

			if fields := profileFields(winners); len(fields) > 0 {
				if err := s.users.UpdateProfile(ctx, user.ID, fields); err != nil {
					return fmt.Errorf("failed to update profile: %w", err)
				}
			}
		}

		recordAnswerMetrics(ctx, winners)
		data = s.answersData(merged)
		return nil
	})
	if err != nil {
		return nil, err
	}

	cacheDelete(ctx, s.answersCache, cacheKey(publicID))
	cacheDelete(ctx, s.profileCache, cacheKey(publicID))
	return data, nil
}

func (s *OnboardingService) validateAnswers(items []dto.OnboardingAnswerData) ([]onboarding.Answer, error) {
	catalog := s.calc.Catalog()
	now := s.now()

	out := make([]onboarding.Answer, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.QuestionID) == "" {
			return nil, pkgerrors.OnboardingQuestionInvalid
		}
		if err := onboarding.ValidateValue(item.Value); err != nil {
			return nil, pkgerrors.OnboardingAnswerInvalid
		}

		q, ok := catalog.Question(item.QuestionID)
		if !ok {
			logger.Logger.Debug("Ignoring answer for unknown question", zap.String("question_id", item.QuestionID))
			continue
		}

		at := item.AnsweredAt
		if at.IsZero() {
			at = now
		}
		out = append(out, onboarding.Answer{
			QuestionID: q.ID,
			Value:      item.Value,
			Phase:      q.Phase,
			AnsweredAt: at,
		})
	}
	return out, nil
}

// winningAnswers 请求中最终被采纳的答案，同一问题只保留一个
func winningAnswers(merged *onboarding.AnswerSet, incoming []onboarding.Answer) []onboarding.Answer {
	seen := make(map[string]bool, len(incoming))
	var out []onboarding.Answer
	for _, a := range incoming {
		if seen[a.QuestionID] {
			continue
		}
		m, ok := merged.Get(a.QuestionID)
		if ok && m.AnsweredAt.Equal(a.AnsweredAt) && bytes.Equal(m.Value, a.Value) {
			seen[a.QuestionID] = true
			out = append(out, m)
		}
	}
	return out
}

// profileFields 只回填字符串值
func profileFields(answers []onboarding.Answer) map[string]interface{} {
	fields := make(map[string]interface{})
	for _, a := range answers {
		col, ok := profileColumns[a.QuestionID]
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(a.Value, &v); err != nil {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		fields[col.column] = truncateRunes(v, col.max)
	}
	return fields
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func recordAnswerMetrics(ctx context.Context, answers []onboarding.Answer) {
	perPhase := make(map[onboarding.PhaseID]int)
	for _, a := range answers {
		perPhase[a.Phase]++
	}
	for phase, n := range perPhase {
		metrics.RecordAnswers(ctx, string(phase), n)
	}
}

// ========== 完成引导 ==========

// Complete 完成度未达到阈值返回 OnboardingNotReady（409）。
// 完成记录每个用户只插入一次，事件只在首次插入后发布；发布失败的由 worker 补发。
func (s *OnboardingService) Complete(ctx context.Context, userID string) (*dto.CompleteOnboardingData, error) {
	publicID, err := parsePublicID(userID)
	if err != nil {
		return nil, err
	}

	var out *dto.CompleteOnboardingData
	err = s.lock(ctx, lockKey(publicID), s.lockTTL, func() error {
		user, err := s.users.GetByPublicID(ctx, publicID)
		if stderrors.Is(err, repository.ErrNotFound) {
			return pkgerrors.OnboardingNotReady
		}
		if err != nil {
			return fmt.Errorf("failed to query user: %w", err)
		}

		existing, err := s.completions.Get(ctx, user.ID)
		switch {
		case err == nil:
			if existing.PublishedAt == nil {
				s.publishCompletion(ctx, existing)
			}
			out = completionData(existing)
			return nil
		case !stderrors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("failed to query onboarding completion: %w", err)
		}

		rows, err := s.answers.List(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to query onboarding answers: %w", err)
		}
		summary := s.calc.Summarize(answerSetOf(rows).IDs())
		if !summary.IsComplete {
			return pkgerrors.OnboardingNotReady
		}

		rec := &model.OnboardingCompletion{
			UserID:       user.ID,
			MessageID:    queue.NewMessageID("onboarding_done"),
			TotalPercent: summary.TotalPercent,
			CompletedAt:  s.now().UTC(),
		}
		created, err := s.completions.CreateIfAbsent(ctx, rec)
		if err != nil {
			return fmt.Errorf("failed to save onboarding completion: %w", err)
		}
		if !created {
			if rec, err = s.completions.Get(ctx, user.ID); err != nil {
				return fmt.Errorf("failed to query onboarding completion: %w", err)
			}
			out = completionData(rec)
			return nil
		}

		metrics.RecordOnboardingCompleted(ctx, "server")
		logger.Logger.Info("Onboarding completed",
			zap.Int64("user_id", user.ID),
			zap.Int("total_percent", summary.TotalPercent),
		)
		s.publishCompletion(ctx, rec)
		out = completionData(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// publishCompletion 发布失败只记录，记录保持未发布状态等待补发
func (s *OnboardingService) publishCompletion(ctx context.Context, rec *model.OnboardingCompletion) bool {
	if s.events == nil {
		return false
	}

	err := s.events.PublishOnboardingCompleted(ctx, model.OnboardingCompletedMessage{
		MessageID:    rec.MessageID,
		UserID:       rec.UserID,
		TotalPercent: rec.TotalPercent,
		CompletedAt:  rec.CompletedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		metrics.RecordCompletionEvent(ctx, "publish", "error")
		logger.Logger.Warn("Failed to publish onboarding completed event, will retry",
			zap.Int64("user_id", rec.UserID),
			zap.String("message_id", rec.MessageID),
			zap.Error(err),
		)
		return false
	}

	metrics.RecordCompletionEvent(ctx, "publish", "ok")
	if err := s.completions.MarkPublished(ctx, rec.ID, s.now().UTC()); err != nil {
		logger.Logger.Warn("Failed to mark completion as published",
			zap.Int64("completion_id", rec.ID),
			zap.Error(err),
		)
	}
	return true
}

// RepublishPending 补发创建超过 olderThan 仍未发布的完成事件，返回成功发布的数量
func (s *OnboardingService) RepublishPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := s.completions.ListUnpublished(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished completions: %w", err)
	}

	published := 0
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		if s.publishCompletion(ctx, &pending[i]) {
			published++
		}
	}
	return published, nil
}

// ========== 转换 ==========

func (s *OnboardingService) answersData(set *onboarding.AnswerSet) *dto.OnboardingAnswersData {
	list := set.List()
	answers := make([]dto.OnboardingAnswerData, len(list))
	for i, a := range list {
		answers[i] = dto.OnboardingAnswerData{
			QuestionID: a.QuestionID,
			Value:      a.Value,
			Phase:      string(a.Phase),
			AnsweredAt: a.AnsweredAt,
		}
	}

	ids := set.IDs()
	summary := s.calc.Summarize(ids)
	return &dto.OnboardingAnswersData{
		Answers: answers,
		Summary: dto.OnboardingSummaryData{
			EssentialPercent: summary.EssentialPercent,
			CorePercent:      summary.CorePercent,
			RichPercent:      summary.RichPercent,
			TotalPercent:     summary.TotalPercent,
			IsComplete:       summary.IsComplete,
			CurrentPhase:     string(s.calc.CurrentPhase(ids)),
		},
	}
}

func answerSetOf(rows []model.OnboardingAnswer) *onboarding.AnswerSet {
	answers := make([]onboarding.Answer, len(rows))
	for i, r := range rows {
		answers[i] = onboarding.Answer{
			QuestionID: r.QuestionID,
			Value:      json.RawMessage(r.Value),
			Phase:      onboarding.PhaseID(r.Phase),
			AnsweredAt: r.AnsweredAt,
		}
	}
	return onboarding.NewAnswerSet(answers...)
}

func remoteOf(rec *model.OnboardingProgress) onboarding.RemoteProgress {
	var steps []string
	if len(rec.CompletedSteps) > 0 {
		if err := json.Unmarshal(rec.CompletedSteps, &steps); err != nil {
			logger.Logger.Warn("Malformed completed_steps, treating as empty",
				zap.Int64("user_id", rec.UserID),
				zap.Error(err),
			)
		}
	}
	return onboarding.RemoteProgress{
		CurrentStep:    rec.CurrentStep,
		CompletedSteps: steps,
		IsCompleted:    rec.IsCompleted,
		LastUpdated:    rec.LastUpdated,
	}
}

func progressData(rec *model.OnboardingProgress) (*dto.OnboardingProgressData, error) {
	r := remoteOf(rec)
	if r.CompletedSteps == nil {
		r.CompletedSteps = []string{}
	}
	return &dto.OnboardingProgressData{
		CurrentStep:    r.CurrentStep,
		CompletedSteps: r.CompletedSteps,
		IsCompleted:    r.IsCompleted,
		LastUpdated:    r.LastUpdated,
	}, nil
}

func completionData(rec *model.OnboardingCompletion) *dto.CompleteOnboardingData {
	return &dto.CompleteOnboardingData{
		IsCompleted:  true,
		TotalPercent: rec.TotalPercent,
		CompletedAt:  rec.CompletedAt,
	}
}
