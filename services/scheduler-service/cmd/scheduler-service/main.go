package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sattva-health/therapyflow/libs/config"
	"github.com/sattva-health/therapyflow/libs/db"
	"github.com/sattva-health/therapyflow/libs/httpx"
	"github.com/sattva-health/therapyflow/libs/kafkax"
	otelx "github.com/sattva-health/therapyflow/libs/otel"
	"github.com/sattva-health/therapyflow/libs/runtime"
	"github.com/sattva-health/therapyflow/services/scheduler-service/internal/consumer"
	"github.com/sattva-health/therapyflow/services/scheduler-service/internal/inbox"
	"github.com/sattva-health/therapyflow/services/scheduler-service/internal/jobs"
	"github.com/sattva-health/therapyflow/services/scheduler-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	jobRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	jobWorker := jobs.NewWorker(pool, jobRepo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:  config.Duration("SCHEDULER_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("SCHEDULER_BATCH_SIZE", 50),
		Backoff:   config.Duration("SCHEDULER_RETRY_BACKOFF", time.Minute),
	})
	go jobWorker.Run(ctx)

	groupID := config.String("KAFKA_GROUP_ID", "scheduler-service")

	type scheduleRequest struct {
		AppointmentID  string `json:"appointment_id"`
		PatientID      string `json:"patient_id"`
		PractitionerID string `json:"practitioner_id"`
		TherapyType    string `json:"therapy_type"`
		StartTime      string `json:"start_time"`
		Reminders      []struct {
			Channel  string `json:"channel"`
			RemindAt string `json:"remind_at"`
		} `json:"reminders"`
	}

	scheduleConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: groupID,
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "booking.reminder.scheduled.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload scheduleRequest
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid schedule request", "err", err)
			return nil
		}
		if payload.AppointmentID == "" || payload.PatientID == "" || len(payload.Reminders) == 0 {
			logger.Error("missing schedule fields", "appointment_id", payload.AppointmentID)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for _, rem := range payload.Reminders {
			remindAt, err := time.Parse(time.RFC3339, rem.RemindAt)
			if err != nil || rem.Channel == "" {
				logger.Error("invalid reminder entry", "appointment_id", payload.AppointmentID, "channel", rem.Channel)
				continue
			}
			if err := jobRepo.Insert(ctx, tx, jobs.Job{
				IdempotencyKey: payload.AppointmentID + ":" + rem.Channel,
				AppointmentID:  payload.AppointmentID,
				PatientID:      payload.PatientID,
				PractitionerID: payload.PractitionerID,
				Channel:        rem.Channel,
				RemindAt:       remindAt,
				TemplateData: map[string]any{
					"therapy_type": payload.TherapyType,
					"start_time":   payload.StartTime,
				},
			}); err != nil {
				return err
			}
		}

		return tx.Commit(ctx)
	})
	go scheduleConsumer.Run(ctx)

	// A cancelled appointment must not produce reminders. Pending jobs are
	// marked cancelled; reminders already handed to the outbox stay sent.
	cancelConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: groupID,
		Topic:   "appointment_cancellation",
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.AppointmentID == "" {
			logger.Error("invalid cancellation event", "err", err)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		n, err := jobRepo.CancelByAppointment(ctx, tx, payload.AppointmentID)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("reminders cancelled", "appointment_id", payload.AppointmentID, "count", n)
		}
		return tx.Commit(ctx)
	})
	go cancelConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
