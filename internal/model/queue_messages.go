package model

// OnboardingCompletedMessage 用户完成引导后发布，worker 据此激活用户
type OnboardingCompletedMessage struct {
	MessageID    string `json:"message_id"` // 消息唯一ID，用于幂等性检查
	UserID       int64  `json:"user_id"`
	TotalPercent int    `json:"total_percent"`
	CompletedAt  string `json:"completed_at"`
}
