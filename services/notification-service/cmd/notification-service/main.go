package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sattva-health/therapyflow/libs/config"
	"github.com/sattva-health/therapyflow/libs/db"
	"github.com/sattva-health/therapyflow/libs/httpx"
	"github.com/sattva-health/therapyflow/libs/kafkax"
	otelx "github.com/sattva-health/therapyflow/libs/otel"
	"github.com/sattva-health/therapyflow/libs/runtime"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/consumer"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/contacts"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/dispatch"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/email"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/handlers"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/inbox"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/outbox"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/sms"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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
	notificationsRepo := storage.NewRepository(pool)
	contactsRepo := contacts.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@sattva.health")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	smsWebhookURL := config.String("SMS_WEBHOOK_URL", "")
	smsWebhookToken := config.String("SMS_WEBHOOK_TOKEN", "")
	var smsSender sms.Sender
	switch smsProvider {
	case "noop":
		smsSender = sms.NewNoopSender()
	default:
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken, config.Duration("SMS_WEBHOOK_TIMEOUT", 5*time.Second))
	}

	results := dispatch.NewOutboxResults(pool, outboxRepo)
	dispatcher := dispatch.New(logger, contactsRepo, notificationsRepo, results, emailSender, smsSender)

	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	lifecycleTopics := []string{
		"appointment_confirmation",
		"appointment_cancellation",
		"feedback_request",
	}
	for _, topic := range lifecycleTopics {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, dispatcher.HandleLifecycle)
		go c.Run(ctx)
	}
	reminderConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "appointment_reminder",
	}, dispatcher.HandleReminder)
	go reminderConsumer.Run(ctx)

	httpHandler := handlers.New(contactsRepo, notificationsRepo)
	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/contacts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			httpHandler.GetContact(w, r)
			return
		}
		httpHandler.UpsertContact(w, r)
	})
	mux.HandleFunc("/api/v1/notifications", httpHandler.Feed)
	mux.HandleFunc("/api/v1/notifications/read", httpHandler.MarkRead)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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
