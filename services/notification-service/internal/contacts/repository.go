package contacts

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sattva-health/therapyflow/libs/db"
)

// Contact holds the delivery addresses for a patient. The booking side only
// carries patient IDs, so this table is the single place that knows where a
// reminder actually goes.
type Contact struct {
	PatientID string
	Name      string
	Email     string
	Phone     string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Upsert(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient_contacts (patient_id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (patient_id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    updated_at = now()
	`, strings.TrimSpace(c.PatientID), strings.TrimSpace(c.Name), strings.TrimSpace(c.Email), strings.TrimSpace(c.Phone))
	return err
}

func (r *Repository) Get(ctx context.Context, patientID string) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT patient_id, name, email, phone
		FROM patient_contacts
		WHERE patient_id = $1
	`, patientID).Scan(&c.PatientID, &c.Name, &c.Email, &c.Phone)
	return c, err
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
