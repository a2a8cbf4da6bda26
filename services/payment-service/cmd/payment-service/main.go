package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roamly/roamly/libs/config"
	"github.com/roamly/roamly/libs/db"
	"github.com/roamly/roamly/libs/httpx"
	"github.com/roamly/roamly/libs/kafkax"
	otelx "github.com/roamly/roamly/libs/otel"
	"github.com/roamly/roamly/libs/runtime"
	"github.com/roamly/roamly/services/payment-service/internal/consumer"
	"github.com/roamly/roamly/services/payment-service/internal/handlers"
	"github.com/roamly/roamly/services/payment-service/internal/inbox"
	"github.com/roamly/roamly/services/payment-service/internal/outbox"
	"github.com/roamly/roamly/services/payment-service/internal/payments"
	"github.com/roamly/roamly/services/payment-service/internal/reconcile"
	"github.com/roamly/roamly/services/payment-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"github.com/stripe/stripe-go/v79"
	striperefund "github.com/stripe/stripe-go/v79/refund"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "payment-service")
	port, err := config.Port("PORT", "8084")
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

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository()
	svc := payments.New(repo, outboxRepo)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	stripeKey := config.String("STRIPE_SECRET_KEY", "")

	inboxRepo := inbox.NewRepository(pool)
	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "payment-service"),
			Topic:   topic,
		}, handler)
		go eventConsumer.Run(ctx)
	}

	startConsumer(config.String("KAFKA_BOOKING_CREATED_TOPIC", "booking.created.v1"),
		bookingCreatedHandler(repo, logger))
	startConsumer(config.String("KAFKA_BOOKING_CAPACITY_CONFLICT_TOPIC", "booking.capacity_conflict.v1"),
		refundHandler(repo, svc, logger, stripeKey, "capacity_conflict"))
	startConsumer(config.String("KAFKA_BOOKING_CANCELLED_TOPIC", "booking.cancelled.v1"),
		refundHandler(repo, svc, logger, stripeKey, "booking_cancelled"))

	tolSeconds, err := strconv.Atoi(config.String("STRIPE_WEBHOOK_TOLERANCE_SECONDS", "300"))
	if err != nil || tolSeconds <= 0 {
		tolSeconds = 300
	}
	h := handlers.New(repo, svc, logger, handlers.Config{
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: tolSeconds,
		StripeSecretKey:               stripeKey,
		CheckoutSuccessURL:            config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:             config.String("CHECKOUT_CANCEL_URL", ""),
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/payments/checkout", h.CreateCheckout)
	mux.HandleFunc("/api/v1/public/payments/checkout/session", h.SessionStatus)
	mux.HandleFunc("/api/v1/public/payments/checkout/session/ack", h.AckCheckoutReturn)
	mux.HandleFunc("/api/v1/public/payments/coupons/validate", h.ValidateCoupon)
	mux.HandleFunc("/api/v1/payments/order", h.GetOrder)
	mux.HandleFunc("/api/v1/payments/coupons", couponsRoute(h))
	mux.HandleFunc("/api/v1/payments/coupons/deactivate", h.DeactivateCoupon)
	mux.HandleFunc("/api/v1/payments/webhooks/local", h.LocalWebhook)
	mux.HandleFunc("/api/v1/payments/webhooks/stripe", h.StripeWebhook)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "payment")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Stripe reconciliation: self-heal orders stuck in checkout if webhooks are missed.
	if config.Bool("PAYMENT_STRIPE_RECONCILE_ENABLED", false) {
		intervalSeconds := config.Int("PAYMENT_STRIPE_RECONCILE_INTERVAL_SECONDS", 300)
		if intervalSeconds <= 0 {
			intervalSeconds = 300
		}
		staleSeconds := config.Int("PAYMENT_STRIPE_RECONCILE_STALE_SECONDS", 1800)
		lockKey, _ := strconv.ParseInt(config.String("PAYMENT_STRIPE_RECONCILE_LOCK_KEY", "8484001"), 10, 64)
		rec := reconcile.NewStripeReconciler(pool, repo, svc, logger, reconcile.StripeReconcilerConfig{
			StripeSecretKey: stripeKey,
			StaleAfter:      time.Duration(staleSeconds) * time.Second,
			BatchSize:       config.Int("PAYMENT_STRIPE_RECONCILE_BATCH_SIZE", 50),
			AdvisoryLockKey: lockKey,
		})
		go rec.Run(ctx, time.Duration(intervalSeconds)*time.Second)
	}

	runtime.RunServer(ctx, logger, srv)
}

func couponsRoute(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListCoupons(w, r)
		case http.MethodPost:
			h.CreateCoupon(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

type bookingCreatedEvent struct {
	BookingID     string `json:"booking_id"`
	ExperienceID  string `json:"experience_id"`
	VendorID      string `json:"vendor_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
}

// bookingCreatedHandler seeds a payment order for every new booking. The
// insert is a no-op on redelivery.
func bookingCreatedHandler(repo *storage.Repository, logger *slog.Logger) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt bookingCreatedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("malformed booking.created event", "err", err)
			return nil
		}
		if evt.BookingID == "" {
			logger.Warn("booking.created event without booking_id")
			return nil
		}
		return repo.InsertPaymentOrder(ctx, storage.PaymentOrder{
			BookingID:     evt.BookingID,
			ExperienceID:  evt.ExperienceID,
			VendorID:      evt.VendorID,
			CustomerEmail: evt.CustomerEmail,
			AmountCents:   evt.AmountCents,
			Currency:      evt.Currency,
		})
	}
}

type bookingLifecycleEvent struct {
	BookingID string `json:"booking_id"`
}

// refundHandler returns the money for bookings that were cancelled after
// payment, or that lost the capacity race. Orders that never captured are
// marked failed instead.
func refundHandler(repo *storage.Repository, svc *payments.Service, logger *slog.Logger, stripeKey, reason string) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt bookingLifecycleEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("malformed booking event", "err", err)
			return nil
		}
		if evt.BookingID == "" {
			return nil
		}

		order, err := repo.GetPaymentOrder(ctx, evt.BookingID)
		if err != nil {
			if storage.IsNotFound(err) {
				logger.Warn("booking event for unknown payment order", "booking_id", evt.BookingID, "reason", reason)
				return nil
			}
			return err
		}

		if order.Status == "captured" && order.StripePaymentIntentID != "" && strings.TrimSpace(stripeKey) != "" {
			stripe.Key = strings.TrimSpace(stripeKey)
			_, err := striperefund.New(&stripe.RefundParams{
				PaymentIntent: stripe.String(order.StripePaymentIntentID),
			})
			if err != nil {
				logger.Error("stripe refund failed", "err", err, "booking_id", evt.BookingID, "payment_intent_id", order.StripePaymentIntentID)
				return err
			}
		}

		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		switch order.Status {
		case "captured":
			err = svc.ApplyRefunded(ctx, tx, evt.BookingID, reason, time.Now())
		case "refunded", "failed":
			return nil
		default:
			err = svc.ApplyFailed(ctx, tx, evt.BookingID, reason, time.Now())
		}
		if err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
}
