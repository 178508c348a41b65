package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sattva-health/therapyflow/services/notification-service/internal/contacts"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type EmailSender interface {
	Send(to string, subject string, body string) error
}

type SMSSender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

type ContactSource interface {
	Get(ctx context.Context, patientID string) (contacts.Contact, error)
}

type Store interface {
	Insert(ctx context.Context, n storage.Notification) error
}

// Results reports delivery outcomes back to the rest of the system.
type Results interface {
	Sent(ctx context.Context, appointmentID string, channel string, providerID string) error
	Failed(ctx context.Context, appointmentID string, channel string, reason string) error
}

// Dispatcher turns appointment events into deliveries. Every event also
// produces an in-app record, so the patient feed stays complete even when
// email or SMS bounce.
type Dispatcher struct {
	logger   *slog.Logger
	contacts ContactSource
	store    Store
	results  Results
	email    EmailSender
	sms      SMSSender
}

func New(logger *slog.Logger, contactSource ContactSource, store Store, results Results, emailSender EmailSender, smsSender SMSSender) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		contacts: contactSource,
		store:    store,
		results:  results,
		email:    emailSender,
		sms:      smsSender,
	}
}

type lifecyclePayload struct {
	AppointmentID string         `json:"appointment_id"`
	Type          string         `json:"type"`
	FromStatus    string         `json:"from_status"`
	ToStatus      string         `json:"to_status"`
	OccurredAt    string         `json:"occurred_at"`
	Metadata      map[string]any `json:"metadata"`
}

// HandleLifecycle processes appointment_confirmation, appointment_cancellation
// and feedback_request events. These go out as email plus an in-app record.
func (d *Dispatcher) HandleLifecycle(ctx context.Context, msg kafka.Message) error {
	var payload lifecyclePayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		d.logger.Error("invalid lifecycle payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if payload.AppointmentID == "" {
		d.logger.Error("lifecycle event without appointment_id", "topic", msg.Topic)
		return nil
	}

	patientID := metaString(payload.Metadata, "patient_id")
	title, body := renderLifecycle(payload)

	if err := d.store.Insert(ctx, storage.Notification{
		AppointmentID: payload.AppointmentID,
		PatientID:     patientID,
		EventType:     payload.Type,
		Channel:       "in-app",
		Title:         title,
		Body:          body,
		Payload:       payload.Metadata,
		Status:        "sent",
	}); err != nil {
		return err
	}

	if patientID == "" {
		return nil
	}
	contact, err := d.contacts.Get(ctx, patientID)
	if err != nil {
		if contacts.IsNotFound(err) {
			d.logger.Warn("no contact on file, email skipped", "patient_id", patientID)
			return nil
		}
		return err
	}
	if contact.Email == "" {
		return nil
	}

	return d.deliverEmail(ctx, payload.AppointmentID, payload.Type, patientID, contact.Email, title, body, payload.Metadata)
}

type reminderPayload struct {
	AppointmentID  string         `json:"appointment_id"`
	PatientID      string         `json:"patient_id"`
	PractitionerID string         `json:"practitioner_id"`
	Channel        string         `json:"channel"`
	RemindAt       string         `json:"remind_at"`
	TemplateData   map[string]any `json:"template_data"`
}

// HandleReminder processes appointment_reminder events on the channel the
// reminder was scheduled for.
func (d *Dispatcher) HandleReminder(ctx context.Context, msg kafka.Message) error {
	var payload reminderPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		d.logger.Error("invalid reminder payload", "err", err)
		return nil
	}
	if payload.AppointmentID == "" || payload.PatientID == "" || payload.Channel == "" {
		d.logger.Error("missing reminder fields", "appointment_id", payload.AppointmentID)
		return nil
	}

	title, body := renderReminder(payload)

	if err := d.store.Insert(ctx, storage.Notification{
		AppointmentID: payload.AppointmentID,
		PatientID:     payload.PatientID,
		EventType:     "appointment_reminder",
		Channel:       "in-app",
		Title:         title,
		Body:          body,
		Payload:       payload.TemplateData,
		Status:        "sent",
	}); err != nil {
		return err
	}

	channel := strings.ToLower(payload.Channel)
	if channel == "in-app" {
		return d.results.Sent(ctx, payload.AppointmentID, channel, "in-app")
	}

	contact, err := d.contacts.Get(ctx, payload.PatientID)
	if err != nil {
		if contacts.IsNotFound(err) {
			d.logger.Warn("no contact on file", "patient_id", payload.PatientID)
			return d.results.Failed(ctx, payload.AppointmentID, channel, "no contact on file")
		}
		return err
	}

	switch channel {
	case "email":
		if contact.Email == "" {
			return d.results.Failed(ctx, payload.AppointmentID, channel, "no email address on file")
		}
		return d.deliverEmail(ctx, payload.AppointmentID, "appointment_reminder", payload.PatientID, contact.Email, title, body, payload.TemplateData)
	case "sms":
		if contact.Phone == "" {
			return d.results.Failed(ctx, payload.AppointmentID, channel, "no phone number on file")
		}
		return d.deliverSMS(ctx, payload.AppointmentID, payload.PatientID, contact.Phone, body, payload.TemplateData)
	default:
		d.logger.Error("unsupported channel", "channel", payload.Channel)
		return d.results.Failed(ctx, payload.AppointmentID, channel, "unsupported channel: "+payload.Channel)
	}
}

func (d *Dispatcher) deliverEmail(ctx context.Context, appointmentID, eventType, patientID, to, subject, body string, data map[string]any) error {
	status := "sent"
	if err := d.email.Send(to, subject, body); err != nil {
		status = "failed"
		d.logger.Error("email send failed", "err", err, "appointment_id", appointmentID)
		if rerr := d.recordDelivery(ctx, appointmentID, eventType, patientID, "email", to, subject, body, data, status); rerr != nil {
			return rerr
		}
		return d.results.Failed(ctx, appointmentID, "email", err.Error())
	}
	if err := d.recordDelivery(ctx, appointmentID, eventType, patientID, "email", to, subject, body, data, status); err != nil {
		return err
	}
	return d.results.Sent(ctx, appointmentID, "email", "smtp")
}

func (d *Dispatcher) deliverSMS(ctx context.Context, appointmentID, patientID, to, body string, data map[string]any) error {
	status := "sent"
	if err := d.sms.Send(ctx, to, body); err != nil {
		status = "failed"
		d.logger.Error("sms send failed", "err", err, "appointment_id", appointmentID)
		if rerr := d.recordDelivery(ctx, appointmentID, "appointment_reminder", patientID, "sms", to, "", body, data, status); rerr != nil {
			return rerr
		}
		return d.results.Failed(ctx, appointmentID, "sms", err.Error())
	}
	if err := d.recordDelivery(ctx, appointmentID, "appointment_reminder", patientID, "sms", to, "", body, data, status); err != nil {
		return err
	}
	return d.results.Sent(ctx, appointmentID, "sms", d.sms.ProviderID())
}

func (d *Dispatcher) recordDelivery(ctx context.Context, appointmentID, eventType, patientID, channel, recipient, title, body string, data map[string]any, status string) error {
	return d.store.Insert(ctx, storage.Notification{
		AppointmentID: appointmentID,
		PatientID:     patientID,
		EventType:     eventType,
		Channel:       channel,
		Recipient:     recipient,
		Title:         title,
		Body:          body,
		Payload:       data,
		Status:        status,
	})
}

func renderLifecycle(p lifecyclePayload) (title string, body string) {
	therapy := metaString(p.Metadata, "therapy_type")
	date := metaString(p.Metadata, "date")
	start := metaString(p.Metadata, "start_time")
	when := date
	if t, err := time.Parse(time.RFC3339, start); err == nil {
		when = t.Format("Mon, 02 Jan 2006 at 15:04")
	}

	switch p.Type {
	case "appointment_cancellation":
		title = "Appointment cancelled"
		body = fmt.Sprintf("Your %s session on %s has been cancelled.", therapy, when)
		if reason := metaString(p.Metadata, "cancellation_reason"); reason != "" && reason != "unspecified" {
			body += " Reason: " + reason + "."
		}
	case "feedback_request":
		title = "How was your session?"
		body = fmt.Sprintf("Your %s session on %s is complete. We would love to hear your feedback.", therapy, when)
	default:
		// Covers booking confirmations and generic status changes such as
		// confirmed, in-progress and no-show.
		switch p.ToStatus {
		case "scheduled":
			title = "Appointment booked"
			body = fmt.Sprintf("Your %s session is booked for %s.", therapy, when)
		case "confirmed":
			title = "Appointment confirmed"
			body = fmt.Sprintf("Your %s session on %s is confirmed.", therapy, when)
		default:
			title = "Appointment update"
			body = fmt.Sprintf("Your %s session on %s is now %s.", therapy, when, p.ToStatus)
		}
	}
	return title, body
}

func renderReminder(p reminderPayload) (title string, body string) {
	therapy := metaString(p.TemplateData, "therapy_type")
	when := p.RemindAt
	if t, err := time.Parse(time.RFC3339, metaString(p.TemplateData, "start_time")); err == nil {
		when = t.Format("Mon, 02 Jan 2006 at 15:04")
	}
	title = "Upcoming appointment"
	body = fmt.Sprintf("Reminder: your %s session is on %s.", therapy, when)
	return title, body
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
