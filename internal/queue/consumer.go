package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"KinLink/internal/model"
	"KinLink/pkg/errors"
	"KinLink/pkg/logger"
	"KinLink/pkg/metrics"
	"KinLink/storage/mq"
)

// Deduper 消息幂等标记，生产环境由 cache 包的 redis SETNX 实现
type Deduper interface {
	TryMark(ctx context.Context, messageID string) (bool, error)
	Unmark(ctx context.Context, messageID string) error
	MarkDone(ctx context.Context, messageID string) error
}

// UserActivator 把完成引导的用户切换为 active
type UserActivator interface {
	ActivateUser(ctx context.Context, userID int64, at time.Time) (bool, error)
}

type OnboardingCompletedHandler struct {
	users UserActivator
	dedup Deduper
}

func NewOnboardingCompletedHandler(users UserActivator, dedup Deduper) *OnboardingCompletedHandler {
	return &OnboardingCompletedHandler{users: users, dedup: dedup}
}

// Handle 处理一条 onboarding.completed 消息
func (h *OnboardingCompletedHandler) Handle(ctx context.Context, body []byte) error {
	var msg model.OnboardingCompletedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return &errors.SkipMessageError{Reason: fmt.Sprintf("malformed onboarding completed message: %v", err)}
	}
	if msg.MessageID == "" || msg.UserID == 0 {
		return &errors.SkipMessageError{Reason: "onboarding completed message without id or user"}
	}

	marked, err := h.dedup.TryMark(ctx, msg.MessageID)
	if err != nil {
		// 幂等检查失败时继续处理，激活本身是幂等的
		logger.Logger.Warn("Failed to check message processed status",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
	} else if !marked {
		return &errors.SkipMessageError{Reason: fmt.Sprintf("message %s already processed", msg.MessageID)}
	}

	at, err := time.Parse(time.RFC3339, msg.CompletedAt)
	if err != nil {
		at = time.Now().UTC()
	}

	changed, err := h.users.ActivateUser(ctx, msg.UserID, at)
	if err != nil {
		if unmarkErr := h.dedup.Unmark(ctx, msg.MessageID); unmarkErr != nil {
			logger.Logger.Warn("Failed to unmark message", zap.String("message_id", msg.MessageID), zap.Error(unmarkErr))
		}
		metrics.RecordCompletionEvent(ctx, "consume", "error")
		if stderrors.Is(err, errors.UserNotFound) {
			return &errors.SkipMessageError{Reason: fmt.Sprintf("user %d no longer exists", msg.UserID)}
		}
		return fmt.Errorf("failed to activate user %d: %w", msg.UserID, err)
	}

	if err := h.dedup.MarkDone(ctx, msg.MessageID); err != nil {
		logger.Logger.Warn("Failed to mark message as processed",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
	}

	metrics.RecordCompletionEvent(ctx, "consume", "ok")
	logger.Logger.Info("Processed onboarding completed message",
		zap.String("message_id", msg.MessageID),
		zap.Int64("user_id", msg.UserID),
		zap.Bool("activated", changed),
	)
	return nil
}

// StartOnboardingCompletedConsumer 阻塞消费直到 ctx 结束
func StartOnboardingCompletedConsumer(ctx context.Context, h *OnboardingCompletedHandler) error {
	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         QueueOnboardingCompleted,
		ConsumerTag:   "onboarding_completed_consumer",
		PrefetchCount: 10,
		Handler:       h.Handle,
	})
}
