package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sattva-health/therapyflow/libs/db"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/outbox"
)

// OutboxResults writes delivery outcomes to the outbox so booking-service can
// track which reminders actually went out.
type OutboxResults struct {
	pool *db.Pool
	repo *outbox.Repository
}

func NewOutboxResults(pool *db.Pool, repo *outbox.Repository) *OutboxResults {
	return &OutboxResults{pool: pool, repo: repo}
}

func (o *OutboxResults) Sent(ctx context.Context, appointmentID string, channel string, providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		providerID = "unknown"
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appointmentID,
		"channel":        channel,
		"provider_id":    providerID,
		"sent_at":        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return o.write(ctx, appointmentID, "notification.sent.v1", payload)
}

func (o *OutboxResults) Failed(ctx context.Context, appointmentID string, channel string, reason string) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appointmentID,
		"channel":        channel,
		"error_reason":   reason,
		"failed_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return o.write(ctx, appointmentID, "notification.failed.v1", payload)
}

func (o *OutboxResults) write(ctx context.Context, appointmentID string, eventType string, payload []byte) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := o.repo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
