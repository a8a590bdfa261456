package outbox

import "encoding/json"

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AggregateAppointment   = "appointment"
	AggregateServiceRecord = "service_record"

	AppointmentCreated       = "appointment.created.v1"
	AppointmentStatusChanged = "appointment.status_changed.v1"
	AppointmentRescheduled   = "appointment.rescheduled.v1"
	AppointmentAssigned      = "appointment.assigned.v1"
	ServiceRecordOpened      = "service_record.opened.v1"
	ServiceRecordUpdated     = "service_record.updated.v1"
)

// NewEvent marshals payload into an event envelope.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
