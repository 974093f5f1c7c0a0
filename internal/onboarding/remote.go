package onboarding

import (
	"context"
	"time"
)

// RemoteProgress 远端 /users/onboarding-progress 的载荷形状
type RemoteProgress struct {
	CurrentStep    int       `json:"current_step"`
	CompletedSteps []string  `json:"completed_steps"`
	IsCompleted    bool      `json:"is_completed"`
	LastUpdated    time.Time `json:"last_updated"`
}

// ToRemote 把本地进度转换为远端载荷
func ToRemote(p *OnboardingProgress) RemoteProgress {
	return RemoteProgress{
		CurrentStep:    p.CurrentStepOrder,
		CompletedSteps: p.CompletedStepIDs.Sorted(),
		IsCompleted:    p.IsCompleted,
		LastUpdated:    p.LastUpdated,
	}
}

// Remote 远端协作方。身份由传输层（token）决定，userID 仅用于日志和路由。
// Fetch 系列方法在远端没有记录时返回 nil, nil。
type Remote interface {
	FetchProgress(ctx context.Context, userID string) (*RemoteProgress, error)
	PushProgress(ctx context.Context, userID string, progress RemoteProgress) error

	SaveAnswer(ctx context.Context, userID string, answer Answer) error
	SaveAnswers(ctx context.Context, userID string, answers []Answer) error
	FetchAnswers(ctx context.Context, userID string) ([]Answer, error)
	MarkComplete(ctx context.Context, userID string) error
}

// FromRemote 由远端载荷还原进度，派生字段按当前目录重新计算。
// 服务端用它在持久化记录和请求体之间做同样的并集合并。
func FromRemote(catalog *Catalog, userID string, r RemoteProgress) *OnboardingProgress {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	p := newProgress(catalog, userID, r.LastUpdated)
	for _, id := range r.CompletedSteps {
		if id != "" {
			p.CompletedStepIDs.Add(id)
		}
	}
	p.rebase(catalog)
	p.SyncState = StateSynced
	return p
}
