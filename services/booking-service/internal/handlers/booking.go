package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sattva-health/therapyflow/libs/auth"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/lifecycle"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/model"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/outbox"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/schedule"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/storage"
)

// ReminderTopic carries reminder schedules from booking to the scheduler
// service; it is not one of the notification-facing lifecycle topics.
const ReminderTopic = "booking.reminder.scheduled.v1"

// AppointmentStore is what the booking handler needs from appointment storage,
// satisfied by storage.AppointmentRepository.
type AppointmentStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error)
	TransitionStatus(ctx context.Context, tx pgx.Tx, id string, from, to lifecycle.Status) (bool, error)
	Cancel(ctx context.Context, tx pgx.Tx, id string, from lifecycle.Status, reason, cancelledBy string) (time.Time, bool, error)
	ListBookedIntervals(ctx context.Context, practitionerID string, dayStart, dayEnd time.Time) ([]schedule.Interval, error)
	List(ctx context.Context, f storage.ListFilter) ([]model.Appointment, error)
	InsertReminders(ctx context.Context, tx pgx.Tx, appointmentID string, reminders []model.Reminder) error
	ListReminders(ctx context.Context, appointmentID string) ([]model.Reminder, error)
}

// OutboxStore writes events in the caller's transaction.
type OutboxStore interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type BookingHandler struct {
	appointments  AppointmentStore
	practitioners PractitionerStore
	outboxRepo    OutboxStore
	logger        *slog.Logger
	jwtSecret     string
}

func NewBookingHandler(appointments AppointmentStore, practitioners PractitionerStore, outboxRepo OutboxStore, logger *slog.Logger, jwtSecret string) *BookingHandler {
	return &BookingHandler{
		appointments:  appointments,
		practitioners: practitioners,
		outboxRepo:    outboxRepo,
		logger:        logger,
		jwtSecret:     jwtSecret,
	}
}

type createAppointmentRequest struct {
	PatientID               string  `json:"patient_id"`
	PractitionerID          string  `json:"practitioner_id"`
	TherapyType             string  `json:"therapy_type"`
	Date                    string  `json:"date"`
	StartTime               string  `json:"start_time"`
	DurationMinutes         int     `json:"duration_minutes"`
	Cost                    float64 `json:"cost"`
	Notes                   string  `json:"notes"`
	PreSessionInstructions  string  `json:"pre_session_instructions"`
	PostSessionInstructions string  `json:"post_session_instructions"`
}

type appointmentResponse struct {
	AppointmentID      string             `json:"appointment_id"`
	PatientID          string             `json:"patient_id"`
	PractitionerID     string             `json:"practitioner_id"`
	TherapyType        string             `json:"therapy_type"`
	Date               string             `json:"date"`
	StartTime          string             `json:"start_time"`
	EndTime            string             `json:"end_time"`
	DurationMinutes    int                `json:"duration_minutes"`
	Status             string             `json:"status"`
	Cost               float64            `json:"cost"`
	PaymentStatus      string             `json:"payment_status"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CancelledBy        string             `json:"cancelled_by,omitempty"`
	CancelledAt        string             `json:"cancelled_at,omitempty"`
	Reminders          []reminderResponse `json:"reminders,omitempty"`
}

type reminderResponse struct {
	Channel       string `json:"channel"`
	ScheduledTime string `json:"scheduled_time"`
	Sent          bool   `json:"sent"`
	SentAt        string `json:"sent_at,omitempty"`
}

type slotItem struct {
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	IsAvailable     bool   `json:"is_available"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.PatientID = strings.TrimSpace(req.PatientID)
	req.PractitionerID = strings.TrimSpace(req.PractitionerID)
	req.TherapyType = strings.TrimSpace(req.TherapyType)

	if req.PatientID == "" || req.PractitionerID == "" {
		http.Error(w, "patient_id and practitioner_id are required", http.StatusBadRequest)
		return
	}
	if !model.TherapyType(req.TherapyType).Valid() {
		http.Error(w, "unknown therapy_type", http.StatusBadRequest)
		return
	}
	if req.Cost < 0 {
		http.Error(w, "cost must not be negative", http.StatusBadRequest)
		return
	}
	for _, s := range []string{req.Notes, req.PreSessionInstructions, req.PostSessionInstructions} {
		if len([]rune(s)) > model.MaxNoteChars {
			http.Error(w, "notes and instructions are limited to 1000 characters", http.StatusBadRequest)
			return
		}
	}

	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), time.UTC)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	clock, err := time.Parse("15:04", strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time (want HH:MM)", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	practitioner, err := h.practitioners.Get(ctx, req.PractitionerID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "practitioner not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load practitioner", http.StatusInternalServerError)
		return
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = practitioner.SessionMinutes
	}
	if duration < model.MinSessionMinutes {
		http.Error(w, "duration_minutes must be at least 15", http.StatusBadRequest)
		return
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC)
	end := start.Add(time.Duration(duration) * time.Minute)

	// Fast-path admission control. The exclusion constraint on the
	// appointments table remains the authoritative check; this read keeps the
	// common conflict out of the write path.
	dayStart := day
	dayEnd := day.AddDate(0, 0, 1)
	booked, err := h.appointments.ListBookedIntervals(ctx, req.PractitionerID, dayStart, dayEnd)
	if err != nil {
		http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
		return
	}
	for _, iv := range booked {
		if start.Before(iv.End) && iv.Start.Before(end) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
	}

	appt := &model.Appointment{
		PatientID:               req.PatientID,
		PractitionerID:          req.PractitionerID,
		TherapyType:             model.TherapyType(req.TherapyType),
		ScheduledDate:           day,
		StartTime:               start,
		EndTime:                 end,
		DurationMinutes:         duration,
		Cost:                    req.Cost,
		Notes:                   strings.TrimSpace(req.Notes),
		PreSessionInstructions:  strings.TrimSpace(req.PreSessionInstructions),
		PostSessionInstructions: strings.TrimSpace(req.PostSessionInstructions),
	}

	tx, err := h.appointments.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := h.appointments.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}
	appt.ID = id
	appt.Status = lifecycle.StatusScheduled
	appt.PaymentStatus = model.PaymentPending

	reminders := []model.Reminder{
		{Channel: model.ChannelEmail, ScheduledTime: start.Add(-model.ReminderEmailLead)},
		{Channel: model.ChannelSMS, ScheduledTime: start.Add(-model.ReminderSMSLead)},
	}
	if err := h.appointments.InsertReminders(ctx, tx, id, reminders); err != nil {
		http.Error(w, "failed to attach reminders", http.StatusInternalServerError)
		return
	}

	if err := h.insertLifecycleEvent(ctx, tx, lifecycle.Event{
		AppointmentID: id,
		To:            lifecycle.StatusScheduled,
		OccurredAt:    time.Now().UTC(),
		Metadata: map[string]any{
			"patient_id":      appt.PatientID,
			"practitioner_id": appt.PractitionerID,
			"therapy_type":    string(appt.TherapyType),
			"date":            day.Format("2006-01-02"),
			"start_time":      start.Format(time.RFC3339),
		},
	}, lifecycle.EventAppointmentConfirmation); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := h.enqueueReminderSchedule(ctx, tx, appt, reminders); err != nil {
		http.Error(w, "failed to schedule reminders", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(*appt, reminders))
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	practitionerID := strings.TrimSpace(r.URL.Query().Get("practitioner_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if practitionerID == "" || dateStr == "" {
		http.Error(w, "practitioner_id and date are required", http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	practitioner, err := h.practitioners.Get(r.Context(), practitionerID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "practitioner not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load practitioner", http.StatusInternalServerError)
		return
	}

	booked, err := h.appointments.ListBookedIntervals(r.Context(), practitionerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
		return
	}

	slots := schedule.Slots(practitioner.Availability, practitioner.Policy(), day, booked)
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime:       s.StartTime.UTC().Format(time.RFC3339),
			EndTime:         s.EndTime.UTC().Format(time.RFC3339),
			DurationMinutes: s.Minutes,
			IsAvailable:     s.Available,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type statusUpdateRequest struct {
	AppointmentID      string `json:"appointment_id"`
	Status             string `json:"status"`
	CancellationReason string `json:"cancellation_reason"`
}

func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	target := lifecycle.Status(strings.TrimSpace(req.Status))
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	if !target.Valid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	h.transition(w, r, req.AppointmentID, target, strings.TrimSpace(req.CancellationReason))
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

// Cancel is the delete-as-cancel operation: the row stays, the status moves.
// Re-cancelling an already cancelled appointment is an invalid transition,
// not a silent success.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	h.transition(w, r, req.AppointmentID, lifecycle.StatusCancelled, strings.TrimSpace(req.Reason))
}

// transition runs the state machine inside one transaction: load the row
// locked, validate the move, apply the status-conditional update, write the
// single lifecycle event. Any failure rolls the whole step back.
func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, appointmentID string, target lifecycle.Status, reason string) {
	ctx := r.Context()
	tx, err := h.appointments.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.appointments.GetForUpdate(ctx, tx, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	if err := lifecycle.Transition(appt.Status, target); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	from := appt.Status
	meta := map[string]any{
		"patient_id":      appt.PatientID,
		"practitioner_id": appt.PractitionerID,
		"therapy_type":    string(appt.TherapyType),
		"date":            appt.ScheduledDate.Format("2006-01-02"),
		"start_time":      appt.StartTime.UTC().Format(time.RFC3339),
	}

	if target == lifecycle.StatusCancelled {
		if reason == "" {
			reason = "unspecified"
		}
		cancelledBy := h.actorRole(r)
		cancelledAt, ok, err := h.appointments.Cancel(ctx, tx, appointmentID, from, reason, cancelledBy)
		if err != nil {
			http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "appointment status changed concurrently", http.StatusConflict)
			return
		}
		appt.CancellationReason = reason
		appt.CancelledBy = cancelledBy
		appt.CancelledAt = &cancelledAt
		meta["cancellation_reason"] = reason
		meta["cancelled_by"] = cancelledBy
	} else {
		ok, err := h.appointments.TransitionStatus(ctx, tx, appointmentID, from, target)
		if err != nil {
			http.Error(w, "failed to update status", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "appointment status changed concurrently", http.StatusConflict)
			return
		}
	}
	appt.Status = target

	if err := h.insertLifecycleEvent(ctx, tx, lifecycle.Event{
		AppointmentID: appointmentID,
		From:          from,
		To:            target,
		OccurredAt:    time.Now().UTC(),
		Metadata:      meta,
	}, lifecycle.EventFor(target)); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(appt, nil))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	appt, err := h.appointments.Get(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	reminders, err := h.appointments.ListReminders(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to load reminders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt, reminders))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()

	filter := storage.ListFilter{
		PatientID:      strings.TrimSpace(q.Get("patient_id")),
		PractitionerID: strings.TrimSpace(q.Get("practitioner_id")),
		Status:         strings.TrimSpace(q.Get("status")),
		TherapyType:    strings.TrimSpace(q.Get("therapy_type")),
	}
	if filter.Status != "" && !lifecycle.Status(filter.Status).Valid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	if filter.TherapyType != "" && !model.TherapyType(filter.TherapyType).Valid() {
		http.Error(w, "unknown therapy_type", http.StatusBadRequest)
		return
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			http.Error(w, "invalid from date", http.StatusBadRequest)
			return
		}
		filter.From = t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			http.Error(w, "invalid to date", http.StatusBadRequest)
			return
		}
		filter.To = t
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}

	appts, err := h.appointments.List(r.Context(), filter)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toResponse(appt, nil))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) insertLifecycleEvent(ctx context.Context, tx pgx.Tx, evt lifecycle.Event, eventType lifecycle.EventType) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": evt.AppointmentID,
		"type":           string(eventType),
		"from_status":    string(evt.From),
		"to_status":      string(evt.To),
		"occurred_at":    evt.OccurredAt.Format(time.RFC3339),
		"metadata":       evt.Metadata,
	})
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   evt.AppointmentID,
		EventType:     string(eventType),
		Payload:       payload,
	})
}

func (h *BookingHandler) enqueueReminderSchedule(ctx context.Context, tx pgx.Tx, appt *model.Appointment, reminders []model.Reminder) error {
	items := make([]map[string]any, 0, len(reminders))
	for _, rem := range reminders {
		items = append(items, map[string]any{
			"channel":   string(rem.Channel),
			"remind_at": rem.ScheduledTime.UTC().Format(time.RFC3339),
		})
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id":  appt.ID,
		"patient_id":      appt.PatientID,
		"practitioner_id": appt.PractitionerID,
		"therapy_type":    string(appt.TherapyType),
		"start_time":      appt.StartTime.UTC().Format(time.RFC3339),
		"reminders":       items,
	})
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     ReminderTopic,
		Payload:       payload,
	})
}

// actorRole identifies who cancelled: the role claim of a verified bearer
// token, else "system" (background jobs and unauthenticated admin tooling).
func (h *BookingHandler) actorRole(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "system"
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimPrefix(header, "Bearer "), h.jwtSecret)
	if err != nil {
		return "system"
	}
	switch claims.Role {
	case "patient", "practitioner":
		return claims.Role
	default:
		return "system"
	}
}

func toResponse(appt model.Appointment, reminders []model.Reminder) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:      appt.ID,
		PatientID:          appt.PatientID,
		PractitionerID:     appt.PractitionerID,
		TherapyType:        string(appt.TherapyType),
		Date:               appt.ScheduledDate.Format("2006-01-02"),
		StartTime:          appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:            appt.EndTime.UTC().Format(time.RFC3339),
		DurationMinutes:    appt.DurationMinutes,
		Status:             string(appt.Status),
		Cost:               appt.Cost,
		PaymentStatus:      string(appt.PaymentStatus),
		CancellationReason: appt.CancellationReason,
		CancelledBy:        appt.CancelledBy,
	}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	for _, rem := range reminders {
		item := reminderResponse{
			Channel:       string(rem.Channel),
			ScheduledTime: rem.ScheduledTime.UTC().Format(time.RFC3339),
			Sent:          rem.Sent,
		}
		if rem.SentAt != nil {
			item.SentAt = rem.SentAt.UTC().Format(time.RFC3339)
		}
		resp.Reminders = append(resp.Reminders, item)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
