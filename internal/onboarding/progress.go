package onboarding

import (
	"encoding/json"
	"sort"
	"time"
)

// SyncState 本地记录与远端的一致性状态
type SyncState string

const (
	// StateLocalOnly 尚未与远端成功交互过
	StateLocalOnly SyncState = "local_only"
	// StateSynced 截至 LastUpdated 本地与远端一致
	StateSynced SyncState = "synced"
	// StateDiverged 本地有尚未被远端确认的修改
	StateDiverged SyncState = "diverged"
)

// OnboardingStep 从模板实例化的步骤，IsCompleted 只会从 false 变为 true
type OnboardingStep struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	IsRequired  bool   `json:"is_required"`
	IsCompleted bool   `json:"is_completed"`
	Order       int    `json:"order"`
	ScreenRef   string `json:"screen_ref"`
}

// IDSet 步骤或问题 id 的集合，序列化为有序数组
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IDSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted 返回稳定顺序的 id 列表
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Union 返回两个集合的并集，不修改入参
func (s IDSet) Union(other IDSet) IDSet {
	out := make(IDSet, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// OnboardingProgress 单个用户的步骤进度，由 ProgressStore 独占
type OnboardingProgress struct {
	UserID           string           `json:"user_id"`
	CurrentStepOrder int              `json:"current_step_order"`
	TotalSteps       int              `json:"total_steps"`
	CompletedStepIDs IDSet            `json:"completed_step_ids"`
	IsCompleted      bool             `json:"is_completed"`
	LastUpdated      time.Time        `json:"last_updated"`
	Steps            []OnboardingStep `json:"steps"`
	SyncState        SyncState        `json:"sync_state"`
	// Revision 每次本地修改递增，用于判断远端确认的是否为最新一次写入
	Revision int64 `json:"revision"`
}

// Clone 深拷贝，调用方拿到的副本不会与存储共享状态
func (p *OnboardingProgress) Clone() *OnboardingProgress {
	if p == nil {
		return nil
	}
	out := *p
	out.CompletedStepIDs = p.CompletedStepIDs.Union(nil)
	out.Steps = make([]OnboardingStep, len(p.Steps))
	copy(out.Steps, p.Steps)
	return &out
}

// newProgress 按目录模板创建全新的进度记录
func newProgress(catalog *Catalog, userID string, now time.Time) *OnboardingProgress {
	templates := catalog.Steps()
	steps := make([]OnboardingStep, len(templates))
	for i, t := range templates {
		steps[i] = OnboardingStep{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Icon:        t.Icon,
			IsRequired:  t.Required,
			Order:       t.Order,
			ScreenRef:   t.ScreenRef,
		}
	}

	p := &OnboardingProgress{
		UserID:           userID,
		TotalSteps:       len(steps),
		CompletedStepIDs: NewIDSet(),
		LastUpdated:      now,
		Steps:            steps,
		SyncState:        StateLocalOnly,
	}
	p.recompute()
	return p
}

// rebase 把持久化记录对齐到当前目录：新增的步骤补齐，已下线的步骤移出 Steps，
// 但其 id 仍保留在 CompletedStepIDs 中。
func (p *OnboardingProgress) rebase(catalog *Catalog) {
	templates := catalog.Steps()
	steps := make([]OnboardingStep, len(templates))
	for i, t := range templates {
		steps[i] = OnboardingStep{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Icon:        t.Icon,
			IsRequired:  t.Required,
			IsCompleted: p.CompletedStepIDs.Has(t.ID),
			Order:       t.Order,
			ScreenRef:   t.ScreenRef,
		}
	}
	p.Steps = steps
	p.TotalSteps = len(steps)
	p.recompute()
}

// recompute 根据 CompletedStepIDs 重新推导 Steps、CurrentStepOrder 和 IsCompleted
func (p *OnboardingProgress) recompute() {
	if p.CompletedStepIDs == nil {
		p.CompletedStepIDs = NewIDSet()
	}

	current, found := p.TotalSteps, false
	allRequired := true
	for i := range p.Steps {
		s := &p.Steps[i]
		switch {
		case s.IsCompleted:
			p.CompletedStepIDs.Add(s.ID)
		case p.CompletedStepIDs.Has(s.ID):
			s.IsCompleted = true
		}
		if s.IsRequired && !s.IsCompleted {
			allRequired = false
			if !found {
				current, found = s.Order, true
			}
		}
	}

	p.CurrentStepOrder = current
	p.IsCompleted = allRequired
}

// stepIndex 在 Steps 中定位步骤
func (p *OnboardingProgress) stepIndex(stepID string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}
