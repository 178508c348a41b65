package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sattva-health/therapyflow/libs/config"
	"github.com/sattva-health/therapyflow/libs/db"
	"github.com/sattva-health/therapyflow/libs/httpx"
	"github.com/sattva-health/therapyflow/libs/kafkax"
	otelx "github.com/sattva-health/therapyflow/libs/otel"
	"github.com/sattva-health/therapyflow/libs/runtime"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/consumer"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/handlers"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/inbox"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/outbox"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8081")
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

	appointments := storage.NewAppointmentRepository(pool)
	practitioners := storage.NewPractitionerRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Delivery results flow back so reminder rows reflect what actually went
	// out. Failures here never touch booking state.
	if brokers != "" {
		sentConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   "notification.sent.v1",
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				AppointmentID string `json:"appointment_id"`
				Channel       string `json:"channel"`
				SentAt        string `json:"sent_at"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid notification.sent payload", "err", err)
				return nil
			}
			if payload.AppointmentID == "" || payload.Channel == "" {
				return nil
			}
			sentAt, err := time.Parse(time.RFC3339, payload.SentAt)
			if err != nil {
				sentAt = time.Now().UTC()
			}
			return appointments.MarkReminderSent(ctx, payload.AppointmentID, payload.Channel, sentAt)
		})
		go sentConsumer.Run(ctx)
	}

	jwtSecret := config.String("JWT_SECRET", "dev-secret")
	bookingHandler := handlers.NewBookingHandler(appointments, practitioners, outboxRepo, logger, jwtSecret)
	practitionerHandler := handlers.NewPractitionerHandler(practitioners, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/get", bookingHandler.Get)
	mux.HandleFunc("/api/v1/appointments/status", bookingHandler.UpdateStatus)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/practitioners", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			practitionerHandler.Create(w, r)
			return
		}
		practitionerHandler.List(w, r)
	})
	mux.HandleFunc("/api/v1/practitioners/get", practitionerHandler.Get)
	mux.HandleFunc("/api/v1/practitioners/availability", practitionerHandler.Availability)
	mux.HandleFunc("/api/v1/practitioners/policy", practitionerHandler.UpdateSessionPolicy)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(15 * time.Second),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", "*"), ","),
			AllowedMethods: []string{"GET", "POST", "PUT"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}),
	}

	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	// Redis gives a shared counter across replicas; the in-process limiter is
	// the single-instance fallback.
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "booking")
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(limit, time.Minute).Middleware())
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
