package model

import (
	"time"

	"gorm.io/datatypes"
)

// OnboardingProgress 服务端保存的步骤进度，completed_steps 只增不减
type OnboardingProgress struct {
	BaseModel
	UserID         int64          `gorm:"uniqueIndex;not null" json:"user_id"`
	CurrentStep    int            `gorm:"not null;default:1" json:"current_step"`
	CompletedSteps datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"completed_steps"`
	IsCompleted    bool           `gorm:"not null;default:false" json:"is_completed"`
	LastUpdated    time.Time      `gorm:"not null" json:"last_updated"`
}

// TableName 指定表名
func (OnboardingProgress) TableName() string {
	return "onboarding_progress"
}

// OnboardingAnswer 单个问题的答案，(user_id, question_id) 唯一
type OnboardingAnswer struct {
	BaseModel
	UserID     int64          `gorm:"not null;uniqueIndex:idx_onboarding_answers_user_question" json:"user_id"`
	QuestionID string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_onboarding_answers_user_question" json:"question_id"`
	Phase      string         `gorm:"type:varchar(16);not null" json:"phase"`
	Value      datatypes.JSON `gorm:"type:jsonb;not null" json:"value"`
	AnsweredAt time.Time      `gorm:"not null" json:"answered_at"`
}

// TableName 指定表名
func (OnboardingAnswer) TableName() string {
	return "onboarding_answers"
}

// OnboardingCompletion 完成记录，每个用户最多一条，保证完成事件只发布一次
type OnboardingCompletion struct {
	BaseModel
	UserID       int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	MessageID    string    `gorm:"type:varchar(64);not null" json:"message_id"`
	TotalPercent int       `gorm:"not null" json:"total_percent"`
	CompletedAt  time.Time `gorm:"not null" json:"completed_at"`
	// PublishedAt 事件成功投递后写入，为空表示需要补发
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// TableName 指定表名
func (OnboardingCompletion) TableName() string {
	return "onboarding_completions"
}
