package queue

import "KinLink/storage/mq"

const (
	// ExchangeEvents 业务事件交换机（topic）
	ExchangeEvents = "kinlink.events"

	RoutingOnboardingCompleted = "onboarding.completed"
	QueueOnboardingCompleted   = "kinlink.onboarding.completed"
)

// Topologies 服务端和 worker 需要声明的全部拓扑
func Topologies() []mq.Topology {
	return []mq.Topology{
		{Exchange: ExchangeEvents, Queue: QueueOnboardingCompleted, RoutingKey: RoutingOnboardingCompleted},
	}
}
