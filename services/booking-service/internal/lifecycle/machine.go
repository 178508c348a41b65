package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// Status is an appointment lifecycle state.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the single source of truth for legal moves. Terminal states
// (completed, cancelled, no-show) have no entry.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no transition leads out of s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Active reports whether appointments in s occupy their time window for
// double-booking purposes.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates the move from one status to another. It returns an
// error wrapping ErrInvalidTransition when the state machine forbids it.
func Transition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// EventType names the notification classes consumed by the delivery
// collaborators. The Kafka topic carrying an event equals its type.
type EventType string

const (
	EventAppointmentConfirmation EventType = "appointment_confirmation"
	EventAppointmentCancellation EventType = "appointment_cancellation"
	EventFeedbackRequest         EventType = "feedback_request"
	EventAppointmentReminder     EventType = "appointment_reminder"
)

// EventFor returns the single event type emitted when an appointment enters
// to. Cancellations and completions carry their own types; every other
// committed change reuses the confirmation type with from/to metadata, the
// way the original status notifications behaved.
func EventFor(to Status) EventType {
	switch to {
	case StatusCancelled:
		return EventAppointmentCancellation
	case StatusCompleted:
		return EventFeedbackRequest
	default:
		return EventAppointmentConfirmation
	}
}

// Event is the ephemeral record of one committed transition. It is written to
// the outbox in the same transaction as the status change and never persisted
// by the core beyond that.
type Event struct {
	AppointmentID string
	From          Status
	To            Status
	OccurredAt    time.Time
	Metadata      map[string]any
}
