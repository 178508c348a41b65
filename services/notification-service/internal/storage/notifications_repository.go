package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sattva-health/therapyflow/libs/db"
)

type Notification struct {
	ID            int64
	AppointmentID string
	PatientID     string
	EventType     string
	Channel       string
	Recipient     string
	Title         string
	Body          string
	Payload       map[string]any
	Status        string
	CreatedAt     time.Time
	ReadAt        *time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, patient_id, event_type, channel, recipient, title, body, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.AppointmentID, n.PatientID, n.EventType, n.Channel, n.Recipient, n.Title, n.Body, payload, n.Status)
	return err
}

// ListForPatient returns the in-app feed, newest first.
func (r *Repository) ListForPatient(ctx context.Context, patientID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, patient_id, event_type, channel, recipient, title, body, payload, status, created_at, read_at
		FROM notifications
		WHERE patient_id = $1 AND channel = 'in-app'
		ORDER BY created_at DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var raw []byte
		if err := rows.Scan(&n.ID, &n.AppointmentID, &n.PatientID, &n.EventType, &n.Channel, &n.Recipient, &n.Title, &n.Body, &raw, &n.Status, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &n.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) MarkRead(ctx context.Context, id int64, patientID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET read_at = now()
		WHERE id = $1 AND patient_id = $2 AND read_at IS NULL
	`, id, patientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
