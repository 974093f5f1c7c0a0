package dto

import (
	"encoding/json"
	"time"
)

// ========== Onboarding 相关 DTO ==========

// OnboardingProgressData GET/POST /users/onboarding-progress 的载荷
type OnboardingProgressData struct {
	CurrentStep    int       `json:"current_step"`
	CompletedSteps []string  `json:"completed_steps"`
	IsCompleted    bool      `json:"is_completed"`
	LastUpdated    time.Time `json:"last_updated"`
}

// OnboardingAnswerData 单个答案
type OnboardingAnswerData struct {
	QuestionID string          `json:"question_id"`
	Value      json.RawMessage `json:"value"`
	Phase      string          `json:"phase,omitempty"`
	AnsweredAt time.Time       `json:"answered_at"`
}

// SaveOnboardingAnswersRequest POST /users/onboarding/answers/batch 请求
type SaveOnboardingAnswersRequest struct {
	Answers []OnboardingAnswerData `json:"answers"`
}

// OnboardingSummaryData 完成度摘要
type OnboardingSummaryData struct {
	EssentialPercent int    `json:"essential_percent"`
	CorePercent      int    `json:"core_percent"`
	RichPercent      int    `json:"rich_percent"`
	TotalPercent     int    `json:"total_percent"`
	IsComplete       bool   `json:"is_complete"`
	CurrentPhase     string `json:"current_phase"`
}

// OnboardingAnswersData GET /users/onboarding/answers 及写入接口的响应
type OnboardingAnswersData struct {
	Answers []OnboardingAnswerData `json:"answers"`
	Summary OnboardingSummaryData  `json:"summary"`
}

// CompleteOnboardingData POST /users/onboarding/complete 的响应
type CompleteOnboardingData struct {
	IsCompleted  bool      `json:"is_completed"`
	TotalPercent int       `json:"total_percent"`
	CompletedAt  time.Time `json:"completed_at"`
}
