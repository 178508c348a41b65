package model

import (
	"time"

	"github.com/sattva-health/therapyflow/services/booking-service/internal/lifecycle"
)

// TherapyType is the fixed set of panchakarma treatments offered.
type TherapyType string

const (
	TherapyAbhyanga      TherapyType = "abhyanga"
	TherapyShirodhara    TherapyType = "shirodhara"
	TherapyBasti         TherapyType = "basti"
	TherapyNasya         TherapyType = "nasya"
	TherapyVirechana     TherapyType = "virechana"
	TherapyRaktaMokshana TherapyType = "rakta-mokshana"
	TherapyConsultation  TherapyType = "consultation"
)

func (t TherapyType) Valid() bool {
	switch t {
	case TherapyAbhyanga, TherapyShirodhara, TherapyBasti, TherapyNasya,
		TherapyVirechana, TherapyRaktaMokshana, TherapyConsultation:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentPartial  PaymentStatus = "partial"
	PaymentRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentPartial, PaymentRefunded:
		return true
	}
	return false
}

// MinSessionMinutes is the shortest bookable session.
const MinSessionMinutes = 15

// MaxNoteChars caps notes and session instructions on an appointment.
const MaxNoteChars = 1000

// Reminder lead times are fixed business rules: an email a day ahead and an
// SMS two hours ahead of the session start.
const (
	ReminderEmailLead = 24 * time.Hour
	ReminderSMSLead   = 2 * time.Hour
)

type ReminderChannel string

const (
	ChannelEmail ReminderChannel = "email"
	ChannelSMS   ReminderChannel = "sms"
	ChannelInApp ReminderChannel = "in-app"
)

// Reminder is owned by its appointment and generated at booking time.
type Reminder struct {
	ID            string
	AppointmentID string
	Channel       ReminderChannel
	ScheduledTime time.Time
	Sent          bool
	SentAt        *time.Time
}

type Appointment struct {
	ID                      string
	PatientID               string
	PractitionerID          string
	TherapyType             TherapyType
	ScheduledDate           time.Time
	StartTime               time.Time
	EndTime                 time.Time
	DurationMinutes         int
	Status                  lifecycle.Status
	Cost                    float64
	PaymentStatus           PaymentStatus
	Notes                   string
	PreSessionInstructions  string
	PostSessionInstructions string
	CancellationReason      string
	CancelledBy             string
	CancelledAt             *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}
