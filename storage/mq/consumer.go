package mq

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"KinLink/pkg/errors"
	"KinLink/pkg/logger"
	mqotel "KinLink/pkg/mq"
)

type MessageHandler func(ctx context.Context, body []byte) error

type ConsumeOptions struct {
	Queue         string
	ConsumerTag   string
	PrefetchCount int
	Handler       MessageHandler
}

// Consume 阻塞消费直到 ctx 结束或连接断开。
// 处理失败的消息重新入队一次，再次失败后丢弃。
func Consume(ctx context.Context, opts ConsumeOptions) error {
	if conn == nil {
		return fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if opts.PrefetchCount > 0 {
		if err := ch.Qos(opts.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	msgs, err := ch.Consume(opts.Queue, opts.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.Logger.Info("Started consuming messages",
		zap.String("queue", opts.Queue),
		zap.String("consumer_tag", opts.ConsumerTag),
		zap.Int("prefetch_count", opts.PrefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel of %s closed", opts.Queue)
			}
			handleDelivery(ctx, opts, msg)
		}
	}
}

func handleDelivery(ctx context.Context, opts ConsumeOptions, msg amqp.Delivery) {
	start := time.Now()
	msgCtx, span := mqotel.StartConsumeSpan(ctx, opts.Queue, msg)

	err := opts.Handler(msgCtx, msg.Body)

	var skip *errors.SkipMessageError
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case stderrors.As(err, &skip):
		logger.Logger.Info("Skipping message",
			zap.String("queue", opts.Queue),
			zap.String("message_id", msg.MessageId),
			zap.String("reason", skip.Reason),
		)
		_ = msg.Ack(false)
		err = nil
	default:
		logger.Logger.Error("Failed to process message",
			zap.String("queue", opts.Queue),
			zap.String("message_id", msg.MessageId),
			zap.Bool("redelivered", msg.Redelivered),
			zap.Error(err),
		)
		_ = msg.Nack(false, !msg.Redelivered)
	}

	mqotel.EndSpan(msgCtx, span, "process", opts.Queue, start, err)
}
