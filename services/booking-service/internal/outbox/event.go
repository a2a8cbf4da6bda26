package outbox

// Topic names double as event types; each event type gets its own topic.
const (
	EventBookingCreated          = "booking.created.v1"
	EventBookingConfirmed        = "booking.confirmed.v1"
	EventBookingCancelled        = "booking.cancelled.v1"
	EventBookingCapacityConflict = "booking.capacity_conflict.v1"
)

// Event is the domain event envelope written to the outbox table inside the
// same transaction as the state change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
