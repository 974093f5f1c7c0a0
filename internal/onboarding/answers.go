package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"KinLink/pkg/logger"
)

// ErrInvalidAnswerValue 答案不是合法的非空 JSON
var ErrInvalidAnswerValue = errors.New("onboarding: answer value must be non-null JSON")

// Answer 单个问题的答案，Value 保留原始 JSON 以兼容各种题型
type Answer struct {
	QuestionID string          `json:"question_id"`
	Value      json.RawMessage `json:"value"`
	Phase      PhaseID         `json:"phase"`
	AnsweredAt time.Time       `json:"answered_at"`
}

// ValidateValue 检查答案值是否可以写入
func ValidateValue(v json.RawMessage) error {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || !json.Valid(trimmed) {
		return ErrInvalidAnswerValue
	}
	return nil
}

// AnswerSet 以问题 id 为键、保留首次写入顺序的答案集合。覆盖写不改变位置。
type AnswerSet struct {
	order []string
	byID  map[string]Answer
}

func NewAnswerSet(answers ...Answer) *AnswerSet {
	s := &AnswerSet{byID: make(map[string]Answer, len(answers))}
	for _, a := range answers {
		s.Put(a)
	}
	return s
}

// Put 写入或覆盖答案，返回集合是否发生变化
func (s *AnswerSet) Put(a Answer) bool {
	prev, ok := s.byID[a.QuestionID]
	if !ok {
		s.order = append(s.order, a.QuestionID)
		s.byID[a.QuestionID] = a
		return true
	}
	if bytes.Equal(prev.Value, a.Value) && prev.Phase == a.Phase && prev.AnsweredAt.Equal(a.AnsweredAt) {
		return false
	}
	s.byID[a.QuestionID] = a
	return true
}

func (s *AnswerSet) Get(questionID string) (Answer, bool) {
	a, ok := s.byID[questionID]
	return a, ok
}

func (s *AnswerSet) Len() int {
	return len(s.order)
}

// List 按写入顺序返回答案
func (s *AnswerSet) List() []Answer {
	out := make([]Answer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// IDs 已回答问题的 id 集合
func (s *AnswerSet) IDs() IDSet {
	out := make(IDSet, len(s.order))
	for _, id := range s.order {
		out[id] = struct{}{}
	}
	return out
}

func (s *AnswerSet) Clone() *AnswerSet {
	return NewAnswerSet(s.List()...)
}

func (s *AnswerSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

func (s *AnswerSet) UnmarshalJSON(data []byte) error {
	var list []Answer
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = *NewAnswerSet(list...)
	return nil
}

// AnswerState 统一引导流程的本地记录
type AnswerState struct {
	UserID      string     `json:"user_id"`
	Answers     *AnswerSet `json:"answers"`
	Phase       PhaseID    `json:"phase"`
	IsCompleted bool       `json:"is_completed"`
	// CompletionSynced 远端是否已确认 mark complete
	CompletionSynced bool      `json:"completion_synced"`
	LastUpdated      time.Time `json:"last_updated"`
	SyncState        SyncState `json:"sync_state"`
	Revision         int64     `json:"revision"`
}

func (s *AnswerState) Clone() *AnswerState {
	if s == nil {
		return nil
	}
	out := *s
	out.Answers = s.Answers.Clone()
	return &out
}

// AnswerStore 持久化答案集合和当前阶段，修改规则与 ProgressStore 一致
type AnswerStore struct {
	kv    KV
	calc  *Calculator
	locks *userLocks
	now   func() time.Time
}

func NewAnswerStore(kv KV, calc *Calculator, opts ...StoreOption) *AnswerStore {
	if calc == nil {
		calc = NewCalculator(DefaultCatalog(), DefaultPolicy())
	}
	cfg := applyStoreOptions(opts)
	return &AnswerStore{
		kv:    kv,
		calc:  calc,
		locks: newUserLocks(),
		now:   cfg.now,
	}
}

func (s *AnswerStore) Calculator() *Calculator {
	return s.calc
}

// Load 读取本地答案记录，未命中时返回空记录和 found=false
func (s *AnswerStore) Load(ctx context.Context, userID string) (*AnswerState, bool, error) {
	if err := checkUserID(userID); err != nil {
		return nil, false, err
	}

	st, err := s.read(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if st == nil {
		return s.empty(userID), false, nil
	}
	return st, true, nil
}

// Put 原子写入一批答案。未知问题被忽略，非法值返回错误且不写入任何答案。
func (s *AnswerStore) Put(ctx context.Context, userID string, answers []Answer) (*AnswerState, bool, error) {
	if err := checkUserID(userID); err != nil {
		return nil, false, err
	}

	catalog := s.calc.Catalog()
	accepted := make([]Answer, 0, len(answers))
	for _, a := range answers {
		q, ok := catalog.Question(a.QuestionID)
		if !ok {
			logger.Logger.Warn("Ignoring answer for unknown onboarding question",
				zap.String("user_id", userID),
				zap.String("question_id", a.QuestionID),
			)
			continue
		}
		if err := ValidateValue(a.Value); err != nil {
			return nil, false, fmt.Errorf("question %s: %w", a.QuestionID, err)
		}
		a.Phase = q.Phase
		a.Value = json.RawMessage(bytes.TrimSpace(a.Value))
		accepted = append(accepted, a)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	st, err := s.read(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	created := st == nil
	if created {
		st = s.empty(userID)
	}

	now := s.now()
	changed := false
	for _, a := range accepted {
		if prev, ok := st.Answers.Get(a.QuestionID); ok && bytes.Equal(prev.Value, a.Value) {
			// 重复提交相同答案不视为修改
			continue
		}
		if a.AnsweredAt.IsZero() {
			a.AnsweredAt = now
		}
		if st.Answers.Put(a) {
			changed = true
		}
	}

	if !changed && !created {
		return st.Clone(), false, nil
	}
	if changed {
		st.Phase = s.calc.CurrentPhase(st.Answers.IDs())
		st.LastUpdated = now
		st.Revision++
		st.SyncState = StateDiverged
	}
	if err := s.save(ctx, st); err != nil {
		return nil, false, err
	}
	return st.Clone(), changed, nil
}

// Reconcile 合并远端答案：按问题 id 取并集，同一问题保留较新的答案
func (s *AnswerStore) Reconcile(ctx context.Context, userID string, remote []Answer) (*AnswerState, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	st, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = s.empty(userID)
	}

	merged, localChanged, remoteCovers := MergeAnswers(st.Answers, remote)
	out := st.Clone()
	out.Answers = merged
	out.Phase = s.calc.CurrentPhase(merged.IDs())
	if localChanged {
		out.Revision++
		if latest := latestAnsweredAt(merged); latest.After(out.LastUpdated) {
			out.LastUpdated = latest
		}
	}
	if remoteCovers {
		out.SyncState = StateSynced
	} else {
		out.SyncState = StateDiverged
	}

	if err := s.save(ctx, out); err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// MarkSynced 远端确认 revision 对应的答案集合
func (s *AnswerStore) MarkSynced(ctx context.Context, userID string, revision int64) (*AnswerState, error) {
	return s.mutateMeta(ctx, userID, func(st *AnswerState) bool {
		if st.Revision != revision || st.SyncState == StateSynced {
			return false
		}
		st.SyncState = StateSynced
		return true
	})
}

// MarkCompleted 记录本地已完成引导；remoteAck 表示远端也已确认
func (s *AnswerStore) MarkCompleted(ctx context.Context, userID string, remoteAck bool) (*AnswerState, error) {
	return s.mutateMeta(ctx, userID, func(st *AnswerState) bool {
		if st.IsCompleted && st.CompletionSynced == remoteAck {
			return false
		}
		if !st.IsCompleted {
			st.LastUpdated = s.now()
		}
		st.IsCompleted = true
		// 远端确认是单调的
		st.CompletionSynced = st.CompletionSynced || remoteAck
		return true
	})
}

// Reset 清空本地答案
func (s *AnswerStore) Reset(ctx context.Context, userID string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	if err := s.kv.Remove(ctx, AnswersKey(userID)); err != nil {
		return fmt.Errorf("failed to remove onboarding answers: %w", err)
	}
	return nil
}

func (s *AnswerStore) mutateMeta(ctx context.Context, userID string, fn func(st *AnswerState) bool) (*AnswerState, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	st, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = s.empty(userID)
	}
	if !fn(st) {
		return st.Clone(), nil
	}
	if err := s.save(ctx, st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

func (s *AnswerStore) empty(userID string) *AnswerState {
	answers := NewAnswerSet()
	return &AnswerState{
		UserID:      userID,
		Answers:     answers,
		Phase:       s.calc.CurrentPhase(answers.IDs()),
		LastUpdated: s.now(),
		SyncState:   StateLocalOnly,
	}
}

func (s *AnswerStore) read(ctx context.Context, userID string) (*AnswerState, error) {
	data, err := s.kv.Get(ctx, AnswersKey(userID))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read onboarding answers: %w", err)
	}

	var st AnswerState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("malformed onboarding answers for user %s: %w", userID, err)
	}
	if st.Answers == nil {
		st.Answers = NewAnswerSet()
	}
	if st.SyncState == "" {
		st.SyncState = StateLocalOnly
	}
	st.UserID = userID
	return &st, nil
}

func (s *AnswerStore) save(ctx context.Context, st *AnswerState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal onboarding answers: %w", err)
	}
	if err := s.kv.Set(ctx, AnswersKey(st.UserID), data); err != nil {
		return fmt.Errorf("failed to persist onboarding answers: %w", err)
	}
	return nil
}

func latestAnsweredAt(set *AnswerSet) time.Time {
	var latest time.Time
	for _, a := range set.List() {
		if a.AnsweredAt.After(latest) {
			latest = a.AnsweredAt
		}
	}
	return latest
}
