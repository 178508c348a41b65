package lifecycle

import (
	"errors"
	"testing"
)

func TestTransition_HappyPath(t *testing.T) {
	path := []Status{StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted}
	for i := 1; i < len(path); i++ {
		if err := Transition(path[i-1], path[i]); err != nil {
			t.Fatalf("Transition(%s, %s) failed: %v", path[i-1], path[i], err)
		}
	}
}

func TestTransition_Table(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusNoShow, true},
		{StatusScheduled, StatusInProgress, false},
		{StatusScheduled, StatusCompleted, false},
		{StatusConfirmed, StatusInProgress, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusScheduled, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, false},
		{StatusCompleted, StatusScheduled, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusNoShow, StatusConfirmed, false},
	}
	for _, tc := range cases {
		err := Transition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Errorf("Transition(%s, %s) = %v, want nil", tc.from, tc.to, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("Transition(%s, %s) = nil, want error", tc.from, tc.to)
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition(%s, %s) error %v does not wrap ErrInvalidTransition", tc.from, tc.to, err)
			}
		}
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	if err := Transition(Status("rescheduled"), StatusConfirmed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for unknown source, got %v", err)
	}
	if err := Transition(StatusScheduled, Status("done")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for unknown target, got %v", err)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusScheduled, StatusConfirmed, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if Status("bogus").Terminal() {
		t.Error("invalid status must not report terminal")
	}
}

func TestActiveStatuses(t *testing.T) {
	if !StatusScheduled.Active() || !StatusConfirmed.Active() {
		t.Fatal("scheduled and confirmed must occupy their time window")
	}
	for _, s := range []Status{StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow} {
		if s.Active() {
			t.Errorf("%s must not block the slot grid", s)
		}
	}
}

func TestEventFor(t *testing.T) {
	cases := map[Status]EventType{
		StatusCancelled:  EventAppointmentCancellation,
		StatusCompleted:  EventFeedbackRequest,
		StatusConfirmed:  EventAppointmentConfirmation,
		StatusInProgress: EventAppointmentConfirmation,
		StatusNoShow:     EventAppointmentConfirmation,
	}
	for to, want := range cases {
		if got := EventFor(to); got != want {
			t.Errorf("EventFor(%s) = %s, want %s", to, got, want)
		}
	}
}
