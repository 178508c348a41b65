package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sattva-health/therapyflow/libs/db"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/lifecycle"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/model"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/schedule"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const appointmentColumns = `
	id::text, patient_id::text, practitioner_id::text, therapy_type,
	scheduled_date, start_time, end_time, duration_minutes, status,
	cost, payment_status,
	COALESCE(notes, ''), COALESCE(pre_session_instructions, ''), COALESCE(post_session_instructions, ''),
	COALESCE(cancellation_reason, ''), COALESCE(cancelled_by, ''), cancelled_at,
	created_at, updated_at`

// Create inserts the appointment in status scheduled. The appointments table
// carries a GiST exclusion constraint over (practitioner_id, time range)
// scoped to active statuses; a violation surfaces through IsConflict.
func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_id, practitioner_id, therapy_type, scheduled_date,
			start_time, end_time, duration_minutes, status, cost, payment_status,
			notes, pre_session_instructions, post_session_instructions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, id, appt.PatientID, appt.PractitionerID, appt.TherapyType, appt.ScheduledDate,
		appt.StartTime, appt.EndTime, appt.DurationMinutes, lifecycle.StatusScheduled,
		appt.Cost, model.PaymentPending, appt.Notes, appt.PreSessionInstructions,
		appt.PostSessionInstructions)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

// TransitionStatus applies a status-conditional update: the row only changes
// when its current status equals from, so a concurrent transition loses
// cleanly instead of overwriting. Returns false when the guard did not match.
func (r *AppointmentRepository) TransitionStatus(ctx context.Context, tx pgx.Tx, id string, from, to lifecycle.Status) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel is the cancelled transition plus the audit fields it records.
func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, id string, from lifecycle.Status, reason, cancelledBy string) (time.Time, bool, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			cancellation_reason = $3,
			cancelled_by = $4,
			cancelled_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = $5
		RETURNING cancelled_at
	`, id, lifecycle.StatusCancelled, reason, cancelledBy, from).Scan(&cancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return cancelledAt, true, nil
}

// ListBookedIntervals returns the active-status time windows for one
// practitioner's day, ordered by start. Cancelled and finished appointments
// do not block the slot grid.
func (r *AppointmentRepository) ListBookedIntervals(ctx context.Context, practitionerID string, dayStart, dayEnd time.Time) ([]schedule.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE practitioner_id = $1
			AND status = ANY($2)
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, practitionerID, []string{string(lifecycle.StatusScheduled), string(lifecycle.StatusConfirmed)}, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Interval
	for rows.Next() {
		var iv schedule.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

type ListFilter struct {
	PatientID      string
	PractitionerID string
	Status         string
	TherapyType    string
	From           time.Time
	To             time.Time
	Limit          int
}

func (r *AppointmentRepository) List(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.PatientID != "" {
		q += ` AND patient_id = ` + arg(f.PatientID)
	}
	if f.PractitionerID != "" {
		q += ` AND practitioner_id = ` + arg(f.PractitionerID)
	}
	if f.Status != "" {
		q += ` AND status = ` + arg(f.Status)
	}
	if f.TherapyType != "" {
		q += ` AND therapy_type = ` + arg(f.TherapyType)
	}
	if !f.From.IsZero() {
		q += ` AND scheduled_date >= ` + arg(f.From)
	}
	if !f.To.IsZero() {
		q += ` AND scheduled_date <= ` + arg(f.To)
	}
	q += ` ORDER BY scheduled_date DESC, start_time DESC LIMIT ` + arg(limit)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func (r *AppointmentRepository) InsertReminders(ctx context.Context, tx pgx.Tx, appointmentID string, reminders []model.Reminder) error {
	for _, rem := range reminders {
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointment_reminders (id, appointment_id, channel, scheduled_time)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), appointmentID, rem.Channel, rem.ScheduledTime); err != nil {
			return err
		}
	}
	return nil
}

func (r *AppointmentRepository) ListReminders(ctx context.Context, appointmentID string) ([]model.Reminder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, appointment_id::text, channel, scheduled_time, sent, sent_at
		FROM appointment_reminders
		WHERE appointment_id = $1
		ORDER BY scheduled_time ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reminder
	for rows.Next() {
		var rem model.Reminder
		if err := rows.Scan(&rem.ID, &rem.AppointmentID, &rem.Channel, &rem.ScheduledTime, &rem.Sent, &rem.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// MarkReminderSent records delivery reported back by the scheduler pipeline.
func (r *AppointmentRepository) MarkReminderSent(ctx context.Context, appointmentID string, channel string, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointment_reminders
		SET sent = true, sent_at = $3
		WHERE appointment_id = $1 AND channel = $2 AND NOT sent
	`, appointmentID, channel, sentAt)
	return err
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.PractitionerID,
		&appt.TherapyType,
		&appt.ScheduledDate,
		&appt.StartTime,
		&appt.EndTime,
		&appt.DurationMinutes,
		&appt.Status,
		&appt.Cost,
		&appt.PaymentStatus,
		&appt.Notes,
		&appt.PreSessionInstructions,
		&appt.PostSessionInstructions,
		&appt.CancellationReason,
		&appt.CancelledBy,
		&appt.CancelledAt,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// IsConflict reports an exclusion-constraint violation: some active
// appointment already overlaps the requested window.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

