package outbox

// Event carries a delivery result (notification.sent.v1 or
// notification.failed.v1). The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
