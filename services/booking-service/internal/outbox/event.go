package outbox

// Event is the domain event envelope written to the outbox table inside the
// booking transaction. The Kafka topic name equals EventType, so lifecycle
// event types double as topics (appointment_confirmation and friends).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
