package outbox

// Event is written to the outbox in the same transaction that marks a job
// processed. The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
