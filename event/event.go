// Package event provides participant lifecycle events and an in-memory event bus.
package event

import (
	"time"
)

// EventType is the type of a participant event
type EventType string

const (
	// Request events
	EventCompleteRequested   EventType = "participant.complete_requested"
	EventCompensateRequested EventType = "participant.compensate_requested"
	EventDuplicateRequest    EventType = "participant.duplicate_request"
	EventReplayed            EventType = "participant.replayed"
	EventForgotten           EventType = "participant.forgotten"

	// Work outcome events
	EventCompleted          EventType = "participant.completed"
	EventCompensated        EventType = "participant.compensated"
	EventFailedToComplete   EventType = "participant.failed_to_complete"
	EventFailedToCompensate EventType = "participant.failed_to_compensate"

	// Status events
	EventStatusQueried EventType = "participant.status_queried"

	// Recovery events
	EventRecoveryStart     EventType = "recovery.start"
	EventRecoveryPass      EventType = "recovery.pass"
	EventRecoveryConverged EventType = "recovery.converged"

	// Alert events
	EventAlertWarning  EventType = "alert.warning"
	EventAlertCritical EventType = "alert.critical"
)

// Event is one participant lifecycle occurrence
type Event struct {
	Type        EventType      // event type
	TxID        string         // transaction identifier
	Participant string         // participant identity
	Status      string         // participant status after the event, if any
	Timestamp   time.Time      // when the event was created
	Data        map[string]any // extra data
	Error       error          // failure cause, failure events only
}

// NewEvent creates a new event with the given type and automatically sets the timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithTxID sets the transaction ID on the event.
func (e Event) WithTxID(txID string) Event {
	e.TxID = txID
	return e
}

// WithParticipant sets the participant identity on the event.
func (e Event) WithParticipant(name string) Event {
	e.Participant = name
	return e
}

// WithStatus sets the participant status on the event.
func (e Event) WithStatus(status string) Event {
	e.Status = status
	return e
}

// WithError sets the error on the event.
func (e Event) WithError(err error) Event {
	e.Error = err
	return e
}

// WithData sets a key-value pair in the event data.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}
