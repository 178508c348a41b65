package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sattva-health/therapyflow/libs/db"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/model"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/schedule"
)

type PractitionerRepository struct {
	pool *db.Pool
}

func errNotFound(practitionerID string) error {
	return fmt.Errorf("practitioner %s: %w", practitionerID, pgx.ErrNoRows)
}

func NewPractitionerRepository(pool *db.Pool) *PractitionerRepository {
	return &PractitionerRepository{pool: pool}
}

// Create inserts the practitioner and seeds all seven weekday rows of the
// availability template in one transaction.
func (r *PractitionerRepository) Create(ctx context.Context, p *model.Practitioner) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.NewString()
	sessionMinutes := p.SessionMinutes
	if sessionMinutes < model.MinSessionPolicy {
		sessionMinutes = model.DefaultSessionMinutes
	}
	breakMinutes := p.BreakMinutes
	if breakMinutes < 0 {
		breakMinutes = model.DefaultBreakMinutes
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO practitioners (id, name, email, specializations, consultation_fee, session_minutes, break_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, p.Name, p.Email, p.Specializations, p.ConsultationFee, sessionMinutes, breakMinutes)
	if err != nil {
		return "", err
	}

	week := p.Availability
	if len(week) == 0 {
		week = model.DefaultAvailability()
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		window := week[wd]
		if _, err := tx.Exec(ctx, `
			INSERT INTO practitioner_availability (practitioner_id, weekday, is_available, start_minute, end_minute)
			VALUES ($1, $2, $3, $4, $5)
		`, id, int(wd), window.Available, window.StartMinute, window.EndMinute); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (r *PractitionerRepository) Get(ctx context.Context, id string) (model.Practitioner, error) {
	var p model.Practitioner
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, email, specializations, consultation_fee, session_minutes, break_minutes, active, created_at
		FROM practitioners
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Specializations, &p.ConsultationFee,
		&p.SessionMinutes, &p.BreakMinutes, &p.Active, &p.CreatedAt)
	if err != nil {
		return model.Practitioner{}, err
	}

	p.Availability, err = r.weeklyAvailability(ctx, id)
	if err != nil {
		return model.Practitioner{}, err
	}
	return p, nil
}

func (r *PractitionerRepository) weeklyAvailability(ctx context.Context, practitionerID string) (schedule.WeeklyAvailability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, is_available, start_minute, end_minute
		FROM practitioner_availability
		WHERE practitioner_id = $1
		ORDER BY weekday ASC
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	week := make(schedule.WeeklyAvailability, 7)
	for rows.Next() {
		var wd int
		var window schedule.DayWindow
		if err := rows.Scan(&wd, &window.Available, &window.StartMinute, &window.EndMinute); err != nil {
			return nil, err
		}
		week[time.Weekday(wd)] = window
	}
	return week, rows.Err()
}

func (r *PractitionerRepository) List(ctx context.Context, limit int) ([]model.Practitioner, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, email, specializations, consultation_fee, session_minutes, break_minutes, active, created_at
		FROM practitioners
		WHERE active
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Practitioner
	for rows.Next() {
		var p model.Practitioner
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Specializations, &p.ConsultationFee,
			&p.SessionMinutes, &p.BreakMinutes, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertAvailability replaces one weekday entry of the template. Only the
// practitioner (or an admin on their behalf) calls this; the scheduling core
// reads the template, never writes it.
func (r *PractitionerRepository) UpsertAvailability(ctx context.Context, practitionerID string, weekday time.Weekday, window schedule.DayWindow) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO practitioner_availability (practitioner_id, weekday, is_available, start_minute, end_minute)
		SELECT id, $2, $3, $4, $5 FROM practitioners WHERE id = $1
		ON CONFLICT (practitioner_id, weekday) DO UPDATE
		SET is_available = EXCLUDED.is_available,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute
	`, practitionerID, int(weekday), window.Available, window.StartMinute, window.EndMinute)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNotFound(practitionerID)
	}
	return nil
}

func (r *PractitionerRepository) UpdateSessionPolicy(ctx context.Context, practitionerID string, sessionMinutes, breakMinutes int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE practitioners
		SET session_minutes = $2, break_minutes = $3
		WHERE id = $1
	`, practitionerID, sessionMinutes, breakMinutes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNotFound(practitionerID)
	}
	return nil
}
