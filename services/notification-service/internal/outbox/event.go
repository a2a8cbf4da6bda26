package outbox

import "encoding/json"

const (
	EventNotificationSent   = "notification.sent.v1"
	EventNotificationFailed = "notification.failed.v1"
	EventReminderDue        = "notification.reminder.due.v1"
	EventReminderDLQ        = "notification.reminder.dlq.v1"
)

type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
}
