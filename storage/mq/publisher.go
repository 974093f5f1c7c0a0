package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"KinLink/pkg/logger"
	mqotel "KinLink/pkg/mq"
)

var (
	publisherCh *amqp.Channel
	pubMutex    sync.RWMutex
)

// getPublisherChannel 复用一个发布 channel，被关闭后下一次发布时重建
func getPublisherChannel() (*amqp.Channel, error) {
	pubMutex.RLock()
	if publisherCh != nil && !publisherCh.IsClosed() {
		ch := publisherCh
		pubMutex.RUnlock()
		return ch, nil
	}
	pubMutex.RUnlock()

	pubMutex.Lock()
	defer pubMutex.Unlock()

	if publisherCh != nil && !publisherCh.IsClosed() {
		return publisherCh, nil
	}

	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}
	publisherCh = ch

	closeChan := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		<-closeChan
		pubMutex.Lock()
		if publisherCh == ch {
			publisherCh = nil
		}
		pubMutex.Unlock()

		logger.Logger.Warn("Publisher channel closed, will recreate on next publish",
			zap.String("component", "rabbitmq"),
		)
	}()

	return publisherCh, nil
}

// PublishMessage 发送持久化 JSON 消息，messageID 同时写入 AMQP 属性
func PublishMessage(ctx context.Context, exchange, routingKey, messageID string, body interface{}) (err error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         bodyBytes,
		MessageId:    messageID,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	start := time.Now()
	ctx, span := mqotel.StartPublishSpan(ctx, exchange, routingKey, &msg)
	defer func() { mqotel.EndSpan(ctx, span, "publish", routingKey, start, err) }()

	ch, err := getPublisherChannel()
	if err != nil {
		return err
	}

	if err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Publisher 以接口形式暴露 PublishMessage，方便上层注入
type Publisher struct{}

func (Publisher) Publish(ctx context.Context, exchange, routingKey, messageID string, body interface{}) error {
	return PublishMessage(ctx, exchange, routingKey, messageID, body)
}
