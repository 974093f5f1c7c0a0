package mq

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"KinLink/config"
	"KinLink/pkg/logger"
)

var (
	conn     *amqp.Connection
	connOnce sync.Once
	connErr  error
)

// Topology 交换机、队列和绑定，服务端和 worker 启动时都会声明一次
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

func Init(topologies ...Topology) error {
	connOnce.Do(func() {
		conn, connErr = amqp.Dial(config.Cfg.GetRabbitMQURL())
		if connErr != nil {
			connErr = fmt.Errorf("failed to dial rabbitmq: %w", connErr)
			return
		}

		connErr = declare(topologies)
		if connErr == nil {
			logger.Logger.Info("RabbitMQ initialized", zap.Int("topologies", len(topologies)))
		}
	})
	return connErr
}

func declare(topologies []Topology) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	for _, t := range topologies {
		if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
		}
		if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
		}
		if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", t.Queue, err)
		}
	}
	return nil
}

func Connection() *amqp.Connection {
	return conn
}

func Close() error {
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}
