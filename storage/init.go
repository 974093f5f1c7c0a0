package storage

import (
	"fmt"

	"KinLink/storage/database"
	"KinLink/storage/mq"
	"KinLink/storage/redis"
)

// Init 统一初始化存储层，topologies 为需要声明的 exchange/queue
func Init(topologies ...mq.Topology) error {
	if err := database.Init(); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}

	if err := redis.Init(); err != nil {
		return fmt.Errorf("failed to init redis: %w", err)
	}

	if err := mq.Init(topologies...); err != nil {
		return fmt.Errorf("failed to init rabbitmq: %w", err)
	}

	return nil
}
