package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"KinLink/internal/model"
	"KinLink/pkg/logger"
	"KinLink/pkg/snowflake"
)

// Publisher 消息发布能力，生产环境由 mq.Publisher 实现
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey, messageID string, body interface{}) error
}

type Producer struct {
	pub Publisher
}

func NewProducer(pub Publisher) *Producer {
	return &Producer{pub: pub}
}

// NewMessageID 优先使用 snowflake，未初始化时退回 uuid
func NewMessageID(prefix string) string {
	if id, err := snowflake.NextID(); err == nil {
		return fmt.Sprintf("%s_%d", prefix, id)
	}
	return prefix + "_" + uuid.NewString()
}

// PublishOnboardingCompleted 发布引导完成事件
func (p *Producer) PublishOnboardingCompleted(ctx context.Context, msg model.OnboardingCompletedMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID("onboarding_done")
	}
	if msg.CompletedAt == "" {
		msg.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if err := p.pub.Publish(ctx, ExchangeEvents, RoutingOnboardingCompleted, msg.MessageID, msg); err != nil {
		logger.Logger.Error("Failed to publish onboarding completed message",
			zap.String("message_id", msg.MessageID),
			zap.Int64("user_id", msg.UserID),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Info("Published onboarding completed message",
		zap.String("message_id", msg.MessageID),
		zap.Int64("user_id", msg.UserID),
		zap.Int("total_percent", msg.TotalPercent),
	)
	return nil
}
