package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/contacts"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type fakeEmail struct {
	sent []string
	err  error
}

func (f *fakeEmail) Send(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+"|"+subject+"|"+body)
	return nil
}

type fakeSMS struct {
	sent []string
	err  error
}

func (f *fakeSMS) Send(_ context.Context, to, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+"|"+body)
	return nil
}

func (f *fakeSMS) ProviderID() string { return "sms-test" }

type fakeContacts struct {
	byID map[string]contacts.Contact
}

func (f *fakeContacts) Get(_ context.Context, patientID string) (contacts.Contact, error) {
	c, ok := f.byID[patientID]
	if !ok {
		return contacts.Contact{}, pgx.ErrNoRows
	}
	return c, nil
}

type fakeStore struct {
	rows []storage.Notification
	err  error
}

func (f *fakeStore) Insert(_ context.Context, n storage.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, n)
	return nil
}

type fakeResults struct {
	sent   []string
	failed []string
}

func (f *fakeResults) Sent(_ context.Context, appointmentID, channel, providerID string) error {
	f.sent = append(f.sent, appointmentID+"|"+channel+"|"+providerID)
	return nil
}

func (f *fakeResults) Failed(_ context.Context, appointmentID, channel, reason string) error {
	f.failed = append(f.failed, appointmentID+"|"+channel+"|"+reason)
	return nil
}

func newTestDispatcher(email *fakeEmail, sms *fakeSMS, cs *fakeContacts, store *fakeStore, results *fakeResults) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, cs, store, results, email, sms)
}

func msg(topic, value string) kafka.Message {
	return kafka.Message{Topic: topic, Value: []byte(value)}
}

func TestHandleReminderEmail(t *testing.T) {
	email := &fakeEmail{}
	sms := &fakeSMS{}
	cs := &fakeContacts{byID: map[string]contacts.Contact{
		"pat-1": {PatientID: "pat-1", Email: "maya@example.com", Phone: "+4915200000001"},
	}}
	store := &fakeStore{}
	results := &fakeResults{}
	d := newTestDispatcher(email, sms, cs, store, results)

	err := d.HandleReminder(context.Background(), msg("appointment_reminder", `{
		"appointment_id": "apt-1",
		"patient_id": "pat-1",
		"practitioner_id": "doc-1",
		"channel": "email",
		"remind_at": "2026-09-01T08:00:00Z",
		"template_data": {"therapy_type": "shirodhara", "start_time": "2026-09-02T08:00:00Z"}
	}`))
	if err != nil {
		t.Fatalf("HandleReminder: %v", err)
	}

	if len(email.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(email.sent))
	}
	if !strings.Contains(email.sent[0], "maya@example.com") {
		t.Fatalf("email went to wrong recipient: %s", email.sent[0])
	}
	if !strings.Contains(email.sent[0], "shirodhara") {
		t.Fatalf("body should mention therapy type: %s", email.sent[0])
	}
	if len(results.sent) != 1 || results.sent[0] != "apt-1|email|smtp" {
		t.Fatalf("unexpected sent results: %v", results.sent)
	}
	if len(results.failed) != 0 {
		t.Fatalf("unexpected failures: %v", results.failed)
	}

	// One in-app feed row plus the email delivery record.
	if len(store.rows) != 2 {
		t.Fatalf("expected 2 stored rows, got %d", len(store.rows))
	}
	if store.rows[0].Channel != "in-app" || store.rows[1].Channel != "email" {
		t.Fatalf("unexpected channels: %s, %s", store.rows[0].Channel, store.rows[1].Channel)
	}
}

func TestHandleReminderSMSMissingPhone(t *testing.T) {
	email := &fakeEmail{}
	sms := &fakeSMS{}
	cs := &fakeContacts{byID: map[string]contacts.Contact{
		"pat-1": {PatientID: "pat-1", Email: "maya@example.com"},
	}}
	store := &fakeStore{}
	results := &fakeResults{}
	d := newTestDispatcher(email, sms, cs, store, results)

	err := d.HandleReminder(context.Background(), msg("appointment_reminder", `{
		"appointment_id": "apt-1",
		"patient_id": "pat-1",
		"channel": "sms",
		"remind_at": "2026-09-01T08:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("HandleReminder: %v", err)
	}
	if len(sms.sent) != 0 {
		t.Fatalf("sms should not be sent without a phone number")
	}
	if len(results.failed) != 1 || !strings.Contains(results.failed[0], "no phone number") {
		t.Fatalf("expected phone failure, got %v", results.failed)
	}
}

func TestHandleReminderUnknownPatient(t *testing.T) {
	d := newTestDispatcher(&fakeEmail{}, &fakeSMS{}, &fakeContacts{byID: map[string]contacts.Contact{}}, &fakeStore{}, &fakeResults{})

	results := d.results.(*fakeResults)
	err := d.HandleReminder(context.Background(), msg("appointment_reminder", `{
		"appointment_id": "apt-9",
		"patient_id": "ghost",
		"channel": "email",
		"remind_at": "2026-09-01T08:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("HandleReminder: %v", err)
	}
	if len(results.failed) != 1 || !strings.Contains(results.failed[0], "no contact on file") {
		t.Fatalf("expected contact failure, got %v", results.failed)
	}
}

func TestHandleReminderEmailSendFailure(t *testing.T) {
	email := &fakeEmail{err: errors.New("smtp down")}
	cs := &fakeContacts{byID: map[string]contacts.Contact{
		"pat-1": {PatientID: "pat-1", Email: "maya@example.com"},
	}}
	store := &fakeStore{}
	results := &fakeResults{}
	d := newTestDispatcher(email, &fakeSMS{}, cs, store, results)

	err := d.HandleReminder(context.Background(), msg("appointment_reminder", `{
		"appointment_id": "apt-1",
		"patient_id": "pat-1",
		"channel": "email",
		"remind_at": "2026-09-01T08:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("send failures must not bubble up: %v", err)
	}
	if len(results.failed) != 1 || !strings.Contains(results.failed[0], "smtp down") {
		t.Fatalf("expected failed result, got %v", results.failed)
	}
	last := store.rows[len(store.rows)-1]
	if last.Status != "failed" || last.Channel != "email" {
		t.Fatalf("delivery record should be failed email, got %s/%s", last.Channel, last.Status)
	}
}

func TestHandleLifecycleCancellation(t *testing.T) {
	email := &fakeEmail{}
	cs := &fakeContacts{byID: map[string]contacts.Contact{
		"pat-1": {PatientID: "pat-1", Email: "maya@example.com"},
	}}
	store := &fakeStore{}
	results := &fakeResults{}
	d := newTestDispatcher(email, &fakeSMS{}, cs, store, results)

	err := d.HandleLifecycle(context.Background(), msg("appointment_cancellation", `{
		"appointment_id": "apt-1",
		"type": "appointment_cancellation",
		"from_status": "confirmed",
		"to_status": "cancelled",
		"occurred_at": "2026-09-01T08:00:00Z",
		"metadata": {
			"patient_id": "pat-1",
			"therapy_type": "abhyanga",
			"date": "2026-09-02",
			"start_time": "2026-09-02T08:00:00Z",
			"cancellation_reason": "patient request"
		}
	}`))
	if err != nil {
		t.Fatalf("HandleLifecycle: %v", err)
	}
	if len(email.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(email.sent))
	}
	if !strings.Contains(email.sent[0], "cancelled") || !strings.Contains(email.sent[0], "patient request") {
		t.Fatalf("cancellation email missing detail: %s", email.sent[0])
	}
	if store.rows[0].Channel != "in-app" {
		t.Fatalf("first record should be the in-app row, got %s", store.rows[0].Channel)
	}
}

func TestHandleLifecycleNoContactStillRecordsInApp(t *testing.T) {
	store := &fakeStore{}
	email := &fakeEmail{}
	d := newTestDispatcher(email, &fakeSMS{}, &fakeContacts{byID: map[string]contacts.Contact{}}, store, &fakeResults{})

	err := d.HandleLifecycle(context.Background(), msg("feedback_request", `{
		"appointment_id": "apt-1",
		"type": "feedback_request",
		"to_status": "completed",
		"metadata": {"patient_id": "ghost", "therapy_type": "nasya"}
	}`))
	if err != nil {
		t.Fatalf("HandleLifecycle: %v", err)
	}
	if len(store.rows) != 1 || store.rows[0].Channel != "in-app" {
		t.Fatalf("expected only the in-app record, got %v", store.rows)
	}
	if len(email.sent) != 0 {
		t.Fatalf("no email expected without a contact")
	}
}

func TestHandleMalformedPayloadsIgnored(t *testing.T) {
	store := &fakeStore{}
	d := newTestDispatcher(&fakeEmail{}, &fakeSMS{}, &fakeContacts{byID: map[string]contacts.Contact{}}, store, &fakeResults{})

	if err := d.HandleLifecycle(context.Background(), msg("appointment_confirmation", "not json")); err != nil {
		t.Fatalf("malformed lifecycle payload should be dropped: %v", err)
	}
	if err := d.HandleReminder(context.Background(), msg("appointment_reminder", "{}")); err != nil {
		t.Fatalf("reminder without ids should be dropped: %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("nothing should be stored for bad payloads")
	}
}
