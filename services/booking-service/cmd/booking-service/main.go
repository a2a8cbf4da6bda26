package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/roamly/roamly/libs/config"
	"github.com/roamly/roamly/libs/db"
	"github.com/roamly/roamly/libs/httpx"
	"github.com/roamly/roamly/libs/kafkax"
	otelx "github.com/roamly/roamly/libs/otel"
	"github.com/roamly/roamly/libs/runtime"
	"github.com/roamly/roamly/services/booking-service/internal/catalog"
	"github.com/roamly/roamly/services/booking-service/internal/consumer"
	"github.com/roamly/roamly/services/booking-service/internal/handlers"
	"github.com/roamly/roamly/services/booking-service/internal/inbox"
	"github.com/roamly/roamly/services/booking-service/internal/model"
	"github.com/roamly/roamly/services/booking-service/internal/outbox"
	"github.com/roamly/roamly/services/booking-service/internal/selection"
	"github.com/roamly/roamly/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	redisClient := redis.NewClient(&redis.Options{
		Addr: config.String("REDIS_ADDR", "localhost:6379"),
	})
	defer redisClient.Close()

	repo := storage.NewBookingRepository(pool)
	slotRepo := storage.NewSlotRepository(pool)
	outboxRepo := outbox.NewRepository()
	draftTTL := time.Duration(config.Int("DRAFT_TTL_MINUTES", 30)) * time.Minute
	draftStore := selection.NewStore(redisClient, draftTTL)

	catalogProvider, err := catalog.NewProvider(config.String("CATALOG_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("catalog provider init failed, using shared table", "err", err)
	}
	if closer, ok := catalogProvider.(io.Closer); ok {
		defer closer.Close()
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   topic,
		}, handler)
		go eventConsumer.Run(ctx)
	}

	startConsumer(config.String("KAFKA_PAYMENT_CAPTURED_TOPIC", "payment.captured.v1"),
		paymentCapturedHandler(pool, repo, outboxRepo, logger))
	startConsumer(config.String("KAFKA_PAYMENT_FAILED_TOPIC", "payment.failed.v1"),
		paymentFailedHandler(pool, repo, outboxRepo, logger))

	availabilityHandler := handlers.NewAvailabilityHandler(slotRepo, repo, catalogProvider, logger)
	bookingHandler := handlers.NewBookingHandler(repo, slotRepo, outboxRepo, draftStore, catalogProvider, logger)
	draftHandler := handlers.NewDraftHandler(draftStore, slotRepo, repo, catalogProvider, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: draftStore.Ready},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/availability/slots", availabilityHandler.Slots)
	mux.HandleFunc("/api/v1/public/availability/dates", availabilityHandler.Dates)
	mux.HandleFunc("/api/v1/public/drafts", draftHandler.Create)
	mux.HandleFunc("/api/v1/public/drafts/get", draftHandler.Get)
	mux.HandleFunc("/api/v1/public/drafts/select", draftHandler.Select)
	mux.HandleFunc("/api/v1/public/drafts/reset", draftHandler.Reset)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.List)
	mux.HandleFunc("/api/v1/bookings/get", bookingHandler.Get)
	mux.HandleFunc("/api/v1/bookings/confirm", bookingHandler.Confirm)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingHandler.Cancel)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.RunServer(ctx, logger, srv)
}

// The consumer handlers pull their storage through small interfaces so the
// lifecycle logic can run against fakes. *db.Pool, *storage.BookingRepository,
// and *outbox.Repository are the production implementations.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type bookingLifecycle interface {
	Confirm(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error)
	GetBookingForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error)
	Cancel(ctx context.Context, tx pgx.Tx, bookingID, reason string) (time.Time, error)
}

type outboxInserter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// paymentCapturedHandler confirms the booking once payment lands. When the
// slot filled up while payment was in flight, the booking is cancelled and a
// capacity conflict event is emitted so payment-service can refund.
func paymentCapturedHandler(pool txBeginner, repo bookingLifecycle, outboxRepo outboxInserter, logger *slog.Logger) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID string `json:"booking_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.BookingID == "" {
			logger.Error("invalid payment.captured payload", "topic", msg.Topic)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		booking, err := repo.Confirm(ctx, tx, payload.BookingID)
		if errors.Is(err, storage.ErrCapacityExceeded) {
			return cancelWithConflict(ctx, tx, repo, outboxRepo, payload.BookingID, logger)
		}
		if err != nil {
			if storage.IsNotFound(err) || errors.Is(err, storage.ErrBookingNotPending) {
				logger.Warn("payment.captured for unconfirmable booking", "booking_id", payload.BookingID, "err", err)
				return nil
			}
			return err
		}

		if err := insertBookingEvent(ctx, tx, outboxRepo, outbox.EventBookingConfirmed, booking); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
}

func paymentFailedHandler(pool txBeginner, repo bookingLifecycle, outboxRepo outboxInserter, logger *slog.Logger) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID string `json:"booking_id"`
			Reason    string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.BookingID == "" {
			logger.Error("invalid payment.failed payload", "topic", msg.Topic)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		booking, err := repo.GetBookingForUpdate(ctx, tx, payload.BookingID)
		if err != nil {
			if storage.IsNotFound(err) {
				logger.Warn("payment.failed for unknown booking", "booking_id", payload.BookingID)
				return nil
			}
			return err
		}
		if booking.Status != model.StatusPending {
			return nil
		}

		reason := payload.Reason
		if reason == "" {
			reason = "payment failed"
		}
		cancelledAt, err := repo.Cancel(ctx, tx, booking.ID, reason)
		if err != nil {
			return err
		}
		booking.Status = model.StatusCancelled
		booking.CancelledAt = &cancelledAt
		if err := insertBookingEvent(ctx, tx, outboxRepo, outbox.EventBookingCancelled, booking); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
}

func cancelWithConflict(ctx context.Context, tx pgx.Tx, repo bookingLifecycle, outboxRepo outboxInserter, bookingID string, logger *slog.Logger) error {
	booking, err := repo.GetBookingForUpdate(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	if _, err := repo.Cancel(ctx, tx, bookingID, "slot capacity exceeded at confirmation"); err != nil {
		return err
	}
	booking.Status = model.StatusCancelled
	if err := insertBookingEvent(ctx, tx, outboxRepo, outbox.EventBookingCapacityConflict, booking); err != nil {
		return err
	}
	logger.Warn("booking lost the slot between payment and confirmation", "booking_id", bookingID)
	return tx.Commit(ctx)
}

func insertBookingEvent(ctx context.Context, tx pgx.Tx, outboxRepo outboxInserter, eventType string, b model.Booking) error {
	payload, err := json.Marshal(map[string]any{
		"booking_id":     b.ID,
		"experience_id":  b.ExperienceID,
		"vendor_id":      b.VendorID,
		"time_slot_id":   b.TimeSlotID,
		"booking_date":   b.BookingDate,
		"party_size":     b.TotalParticipants,
		"amount_cents":   b.AmountCents,
		"currency":       b.Currency,
		"customer_email": b.CustomerEmail,
		"status":         b.Status,
	})
	if err != nil {
		return err
	}
	return outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}
