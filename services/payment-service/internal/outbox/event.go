package outbox

import "encoding/json"

const (
	EventPaymentCaptured = "payment.captured.v1"
	EventPaymentFailed   = "payment.failed.v1"
	EventPaymentRefunded = "payment.refunded.v1"
)

type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
}
