package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/lifecycle"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/model"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/outbox"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/schedule"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/storage"
)

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeAppointments struct {
	booked    []schedule.Interval
	createErr error
	created   []model.Appointment
	current   model.Appointment
	getErr    error
	statusUps int
	cancels   int
	reminders []model.Reminder
}

func (f *fakeAppointments) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (f *fakeAppointments) Create(_ context.Context, _ pgx.Tx, appt *model.Appointment) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, *appt)
	return "apt-1", nil
}

func (f *fakeAppointments) Get(context.Context, string) (model.Appointment, error) {
	return f.current, f.getErr
}

func (f *fakeAppointments) GetForUpdate(context.Context, pgx.Tx, string) (model.Appointment, error) {
	return f.current, f.getErr
}

func (f *fakeAppointments) TransitionStatus(_ context.Context, _ pgx.Tx, _ string, _, _ lifecycle.Status) (bool, error) {
	f.statusUps++
	return true, nil
}

func (f *fakeAppointments) Cancel(_ context.Context, _ pgx.Tx, _ string, _ lifecycle.Status, _, _ string) (time.Time, bool, error) {
	f.cancels++
	return time.Now().UTC(), true, nil
}

func (f *fakeAppointments) ListBookedIntervals(context.Context, string, time.Time, time.Time) ([]schedule.Interval, error) {
	return f.booked, nil
}

func (f *fakeAppointments) List(context.Context, storage.ListFilter) ([]model.Appointment, error) {
	return nil, nil
}

func (f *fakeAppointments) InsertReminders(_ context.Context, _ pgx.Tx, _ string, reminders []model.Reminder) error {
	f.reminders = append(f.reminders, reminders...)
	return nil
}

func (f *fakeAppointments) ListReminders(context.Context, string) ([]model.Reminder, error) {
	return nil, nil
}

type fakePractitioners struct {
	p   model.Practitioner
	err error
}

func (f *fakePractitioners) Create(context.Context, *model.Practitioner) (string, error) {
	return f.p.ID, f.err
}

func (f *fakePractitioners) Get(context.Context, string) (model.Practitioner, error) {
	return f.p, f.err
}

func (f *fakePractitioners) List(context.Context, int) ([]model.Practitioner, error) {
	return []model.Practitioner{f.p}, f.err
}

func (f *fakePractitioners) UpsertAvailability(context.Context, string, time.Weekday, schedule.DayWindow) error {
	return f.err
}

func (f *fakePractitioners) UpdateSessionPolicy(context.Context, string, int, int) error {
	return f.err
}

type fakeOutbox struct{ events []outbox.Event }

func (f *fakeOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func newTestHandler(appts *fakeAppointments) (*BookingHandler, *fakeOutbox) {
	prac := &fakePractitioners{p: model.Practitioner{
		ID:             "pr-1",
		Name:           "Dr. Iyer",
		SessionMinutes: 60,
		BreakMinutes:   15,
	}}
	ob := &fakeOutbox{}
	return NewBookingHandler(appts, prac, ob, slog.New(slog.NewTextHandler(io.Discard, nil)), "secret"), ob
}

func bookBody(startTime string) string {
	return `{"patient_id":"p-1","practitioner_id":"pr-1","therapy_type":"consultation",` +
		`"date":"2026-09-07","start_time":"` + startTime + `","duration_minutes":60}`
}

func TestCreateRejectsOverlapWithActiveAppointment(t *testing.T) {
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	appts := &fakeAppointments{booked: []schedule.Interval{
		{Start: day.Add(10*time.Hour + 30*time.Minute), End: day.Add(11*time.Hour + 30*time.Minute)},
	}}
	h, ob := newTestHandler(appts)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(bookBody("10:00")))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if len(appts.created) != 0 {
		t.Fatalf("conflicting request reached the insert path")
	}
	if len(ob.events) != 0 {
		t.Fatalf("conflicting request wrote %d outbox events", len(ob.events))
	}
}

func TestCreateAdjacentSlotAccepted(t *testing.T) {
	// A booking ending exactly when an existing one starts does not overlap.
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	appts := &fakeAppointments{booked: []schedule.Interval{
		{Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)},
	}}
	h, ob := newTestHandler(appts)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(bookBody("10:00")))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(appts.created) != 1 {
		t.Fatalf("created %d appointments, want 1", len(appts.created))
	}
	if len(appts.reminders) != 2 {
		t.Fatalf("attached %d reminders, want 2", len(appts.reminders))
	}
	// One confirmation event plus one reminder schedule for the scheduler.
	if len(ob.events) != 2 {
		t.Fatalf("wrote %d outbox events, want 2", len(ob.events))
	}
	if ob.events[0].EventType != string(lifecycle.EventAppointmentConfirmation) {
		t.Fatalf("first event = %q", ob.events[0].EventType)
	}
	if ob.events[1].EventType != ReminderTopic {
		t.Fatalf("second event = %q", ob.events[1].EventType)
	}
}

func TestCreateMapsExclusionViolationToConflict(t *testing.T) {
	// The fast path saw a free window but the constraint caught a racing write.
	appts := &fakeAppointments{createErr: &pgconn.PgError{Code: "23P01"}}
	h, ob := newTestHandler(appts)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(bookBody("10:00")))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if len(ob.events) != 0 {
		t.Fatalf("failed insert wrote %d outbox events", len(ob.events))
	}
}

func TestCancelCompletedAppointmentRejected(t *testing.T) {
	appts := &fakeAppointments{current: model.Appointment{
		ID:     "apt-1",
		Status: lifecycle.StatusCompleted,
	}}
	h, ob := newTestHandler(appts)

	body := `{"appointment_id":"apt-1","reason":"patient request"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if appts.cancels != 0 {
		t.Fatalf("invalid transition reached the cancel update")
	}
	if len(ob.events) != 0 {
		t.Fatalf("invalid transition wrote %d outbox events", len(ob.events))
	}
}

func TestUpdateStatusSkippingConfirmationRejected(t *testing.T) {
	appts := &fakeAppointments{current: model.Appointment{
		ID:     "apt-1",
		Status: lifecycle.StatusScheduled,
	}}
	h, ob := newTestHandler(appts)

	body := `{"appointment_id":"apt-1","status":"in-progress"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/status", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.UpdateStatus(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if appts.statusUps != 0 {
		t.Fatalf("invalid transition reached the status update")
	}
	if len(ob.events) != 0 {
		t.Fatalf("invalid transition wrote %d outbox events", len(ob.events))
	}
}

func TestUpdateStatusConfirm(t *testing.T) {
	appts := &fakeAppointments{current: model.Appointment{
		ID:     "apt-1",
		Status: lifecycle.StatusScheduled,
	}}
	h, ob := newTestHandler(appts)

	body := `{"appointment_id":"apt-1","status":"confirmed"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/status", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.UpdateStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if appts.statusUps != 1 {
		t.Fatalf("status updates = %d, want 1", appts.statusUps)
	}
	if len(ob.events) != 1 {
		t.Fatalf("wrote %d outbox events, want 1", len(ob.events))
	}
}
