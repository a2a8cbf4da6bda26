package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/roamly/roamly/libs/config"
	"github.com/roamly/roamly/libs/db"
	"github.com/roamly/roamly/libs/httpx"
	"github.com/roamly/roamly/libs/kafkax"
	otelx "github.com/roamly/roamly/libs/otel"
	"github.com/roamly/roamly/libs/runtime"
	"github.com/roamly/roamly/services/notification-service/internal/consumer"
	"github.com/roamly/roamly/services/notification-service/internal/email"
	"github.com/roamly/roamly/services/notification-service/internal/inbox"
	"github.com/roamly/roamly/services/notification-service/internal/outbox"
	"github.com/roamly/roamly/services/notification-service/internal/reminders"
	"github.com/roamly/roamly/services/notification-service/internal/sms"
	"github.com/roamly/roamly/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type reminderDuePayload struct {
	BookingID    string         `json:"booking_id"`
	VendorID     string         `json:"vendor_id"`
	Channel      string         `json:"channel"`
	Recipient    string         `json:"recipient"`
	RemindAt     string         `json:"remind_at"`
	TemplateData map[string]any `json:"template_data"`
}

func writeOutboxSent(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, bookingID, vendorID, kind, channel, providerID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if strings.TrimSpace(providerID) == "" {
		providerID = "unknown"
	}
	eventPayload, err := json.Marshal(map[string]any{
		"booking_id":  bookingID,
		"vendor_id":   vendorID,
		"kind":        kind,
		"channel":     channel,
		"provider_id": providerID,
		"sent_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   bookingID,
		EventType:     outbox.EventNotificationSent,
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func writeOutboxFailed(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, bookingID, vendorID, kind, channel, reason string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	eventPayload, err := json.Marshal(map[string]any{
		"booking_id":   bookingID,
		"vendor_id":    vendorID,
		"kind":         kind,
		"channel":      channel,
		"error_reason": reason,
		"failed_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   bookingID,
		EventType:     outbox.EventNotificationFailed,
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

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
	remindersRepo := reminders.NewRepository()
	outboxRepo := outbox.NewRepository()
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	reminderWorker := reminders.NewWorker(pool, remindersRepo, outboxRepo, logger, reminders.WorkerConfig{
		Interval:  time.Duration(config.Int("REMINDER_POLL_SECONDS", 2)) * time.Second,
		BatchSize: config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:   time.Duration(config.Int("REMINDER_BACKOFF_SECONDS", 60)) * time.Second,
	})
	go reminderWorker.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@roamly.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)
	emailProviderID := "smtp"

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	var smsSender sms.Sender
	switch smsProvider {
	case "noop":
		smsSender = sms.NewNoopSender()
	default:
		smsSender = sms.NewHTTPSender(config.String("SMS_ENDPOINT_URL", ""), config.String("SMS_ENDPOINT_TOKEN", ""))
	}

	reminderLead := time.Duration(config.Int("REMINDER_LEAD_HOURS", 24)) * time.Hour

	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
			Topic:   topic,
		}, handler)
		go eventConsumer.Run(ctx)
	}

	// booking.created.v1 carries the traveler's email; later lifecycle events
	// do not, so the contact is stored for the confirmation + reminder sends.
	startConsumer("booking.created.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID     string `json:"booking_id"`
			ExperienceID  string `json:"experience_id"`
			VendorID      string `json:"vendor_id"`
			BookingDate   string `json:"booking_date"`
			CustomerEmail string `json:"customer_email"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking.created payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.BookingDate == "" {
			logger.Error("missing booking.created fields")
			return nil
		}
		return notificationsRepo.UpsertContact(ctx, storage.Contact{
			BookingID:    payload.BookingID,
			ExperienceID: payload.ExperienceID,
			VendorID:     payload.VendorID,
			Email:        payload.CustomerEmail,
			BookingDate:  payload.BookingDate,
		})
	})

	startConsumer("booking.confirmed.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID   string `json:"booking_id"`
			VendorID    string `json:"vendor_id"`
			BookingDate string `json:"booking_date"`
			PartySize   int    `json:"party_size"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking.confirmed payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.BookingDate == "" {
			logger.Error("missing booking.confirmed fields")
			return nil
		}

		contact, err := notificationsRepo.GetContact(ctx, payload.BookingID)
		if err != nil {
			logger.Warn("no contact for confirmed booking", "err", err, "booking_id", payload.BookingID)
			return nil
		}
		if contact.Email == "" {
			return nil
		}

		bookingDay, err := time.Parse("2006-01-02", payload.BookingDate)
		if err != nil {
			logger.Error("invalid booking_date", "err", err)
			return nil
		}

		status := "sent"
		subject := "Your booking is confirmed"
		body := fmt.Sprintf("Your booking %s for %s is confirmed. Party of %d.", payload.BookingID, payload.BookingDate, payload.PartySize)
		if err := emailSender.Send(contact.Email, subject, body); err != nil {
			status = "failed"
			logger.Error("confirmation email failed", "err", err, "recipient", contact.Email)
		}

		if err := notificationsRepo.Insert(ctx, storage.Notification{
			BookingID: payload.BookingID,
			VendorID:  payload.VendorID,
			Kind:      "confirmation",
			Channel:   "email",
			Recipient: contact.Email,
			Payload:   map[string]any{"booking_date": payload.BookingDate, "party_size": payload.PartySize},
			Status:    status,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}
		if status == "sent" {
			if err := writeOutboxSent(ctx, pool, outboxRepo, payload.BookingID, payload.VendorID, "confirmation", "email", emailProviderID); err != nil {
				return err
			}
		} else {
			if err := writeOutboxFailed(ctx, pool, outboxRepo, payload.BookingID, payload.VendorID, "confirmation", "email", "smtp send failed"); err != nil {
				return err
			}
		}

		// Schedule a reminder ahead of the experience date. Same-day bookings
		// still get one, due immediately.
		remindAt := bookingDay.UTC().Add(-reminderLead)
		if remindAt.Before(time.Now().UTC()) {
			remindAt = time.Now().UTC()
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if err := remindersRepo.Insert(ctx, tx, reminders.Reminder{
			IdempotencyKey: payload.BookingID + ":reminder",
			BookingID:      payload.BookingID,
			VendorID:       payload.VendorID,
			Channel:        "email",
			Recipient:      contact.Email,
			RemindAt:       remindAt,
			TemplateData:   map[string]any{"booking_date": payload.BookingDate, "party_size": payload.PartySize},
		}); err != nil {
			logger.Error("failed to schedule reminder", "err", err, "booking_id", payload.BookingID)
			return err
		}
		return tx.Commit(ctx)
	})

	startConsumer("booking.cancelled.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID string `json:"booking_id"`
			VendorID  string `json:"vendor_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking.cancelled payload", "err", err)
			return nil
		}
		if payload.BookingID == "" {
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if err := remindersRepo.CancelForBooking(ctx, tx, payload.BookingID); err != nil {
			logger.Error("failed to cancel reminders", "err", err, "booking_id", payload.BookingID)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		contact, err := notificationsRepo.GetContact(ctx, payload.BookingID)
		if err != nil || contact.Email == "" {
			return nil
		}
		status := "sent"
		body := fmt.Sprintf("Your booking %s has been cancelled.", payload.BookingID)
		if err := emailSender.Send(contact.Email, "Booking cancelled", body); err != nil {
			status = "failed"
			logger.Error("cancellation email failed", "err", err, "recipient", contact.Email)
		}
		if err := notificationsRepo.Insert(ctx, storage.Notification{
			BookingID: payload.BookingID,
			VendorID:  payload.VendorID,
			Kind:      "cancellation",
			Channel:   "email",
			Recipient: contact.Email,
			Payload:   map[string]any{},
			Status:    status,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}
		return nil
	})

	failSuffix := config.String("NOTIFICATION_FAIL_SUFFIX", "")
	startConsumer(outbox.EventReminderDue, func(ctx context.Context, msg kafka.Message) error {
		var payload reminderDuePayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid reminder payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.Channel == "" || payload.Recipient == "" || payload.RemindAt == "" {
			logger.Error("missing reminder fields")
			return nil
		}
		if _, err := time.Parse(time.RFC3339, payload.RemindAt); err != nil {
			logger.Error("invalid remind_at", "err", err)
			return nil
		}

		status := "sent"
		failureReason := ""
		if failSuffix != "" && strings.HasSuffix(payload.Recipient, failSuffix) {
			status = "failed"
			failureReason = "simulated failure"
		}

		providerID := ""
		if status == "sent" {
			bookingDate, _ := payload.TemplateData["booking_date"].(string)
			switch strings.ToLower(payload.Channel) {
			case "email":
				subject := "Your experience is coming up"
				body := fmt.Sprintf("Reminder: booking %s is scheduled for %s.", payload.BookingID, bookingDate)
				if err := emailSender.Send(payload.Recipient, subject, body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("reminder email failed", "err", err, "recipient", payload.Recipient)
				} else {
					providerID = emailProviderID
				}
			case "sms":
				body := fmt.Sprintf("Reminder: booking %s on %s.", payload.BookingID, bookingDate)
				if err := smsSender.Send(ctx, payload.Recipient, body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("reminder sms failed", "err", err, "recipient", payload.Recipient)
				} else {
					providerID = smsSender.ProviderID()
				}
			default:
				status = "failed"
				failureReason = "unsupported channel: " + payload.Channel
				logger.Error("unsupported channel", "channel", payload.Channel)
			}
		}

		if err := notificationsRepo.Insert(ctx, storage.Notification{
			BookingID: payload.BookingID,
			VendorID:  payload.VendorID,
			Kind:      "reminder",
			Channel:   payload.Channel,
			Recipient: payload.Recipient,
			Payload:   payload.TemplateData,
			Status:    status,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}

		if status == "failed" {
			if err := writeOutboxFailed(ctx, pool, outboxRepo, payload.BookingID, payload.VendorID, "reminder", payload.Channel, failureReason); err != nil {
				logger.Error("failed to enqueue notification.failed", "err", err)
				return err
			}
		} else {
			if err := writeOutboxSent(ctx, pool, outboxRepo, payload.BookingID, payload.VendorID, "reminder", payload.Channel, providerID); err != nil {
				logger.Error("failed to enqueue notification.sent", "err", err)
				return err
			}
		}

		logger.Info("reminder processed", "booking_id", payload.BookingID, "channel", payload.Channel, "status", status)
		return nil
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
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

	runtime.RunServer(ctx, logger, srv)
}
