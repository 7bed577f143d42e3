package orders

const (
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicOrderPreparing = "order.preparing"
	TopicOrderDelivered = "order.delivered"
	TopicOrderCancelled = "order.cancelled"
)

var topicByEvent = map[string]string{
	EventOrderCreated:   TopicOrderCreated,
	EventOrderPaid:      TopicOrderPaid,
	EventOrderPreparing: TopicOrderPreparing,
	EventOrderDelivered: TopicOrderDelivered,
	EventOrderCancelled: TopicOrderCancelled,
}

func TopicFor(eventType string) string { return topicByEvent[eventType] }

// LifecycleTopics lists every topic a lifecycle consumer subscribes to.
func LifecycleTopics() []string {
	return []string{TopicOrderCreated, TopicOrderPaid, TopicOrderPreparing, TopicOrderDelivered, TopicOrderCancelled}
}

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
