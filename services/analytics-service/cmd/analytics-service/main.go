package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/roamly/roamly/libs/config"
	"github.com/roamly/roamly/libs/db"
	"github.com/roamly/roamly/libs/httpx"
	"github.com/roamly/roamly/libs/kafkax"
	otelx "github.com/roamly/roamly/libs/otel"
	"github.com/roamly/roamly/libs/runtime"
	"github.com/roamly/roamly/services/analytics-service/internal/consumer"
	"github.com/roamly/roamly/services/analytics-service/internal/inbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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
	newConsumerCfg := func(topic string) consumer.Config {
		return consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "analytics-service"),
			Topic:   topic,
		}
	}

	handleBookingEvent := func(ctx context.Context, msg kafka.Message, kind string) error {
		var payload struct {
			BookingID    string `json:"booking_id"`
			ExperienceID string `json:"experience_id"`
			VendorID     string `json:"vendor_id"`
			BookingDate  string `json:"booking_date"`
			PartySize    int    `json:"party_size"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booking payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.VendorID == "" || payload.BookingDate == "" {
			logger.Error("missing booking fields")
			return nil
		}
		day, err := time.Parse("2006-01-02", payload.BookingDate)
		if err != nil {
			logger.Error("invalid booking_date", "err", err)
			return nil
		}

		meta := kafkax.ExtractEventMeta(msg)

		tx, err := pool.Begin(ctx)
		if err != nil {
			logger.Error("db begin failed", "err", err)
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, `
			INSERT INTO booking_metric_events (event_id, event_type, vendor_id, experience_id, booking_id, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id) DO NOTHING
		`, meta.EventID, meta.EventType, payload.VendorID, payload.ExperienceID, payload.BookingID, day.UTC())
		if err != nil {
			logger.Error("failed to insert booking metric event", "err", err)
			return err
		}
		if tag.RowsAffected() == 0 {
			_ = tx.Commit(ctx)
			return nil
		}

		confirmedInc := 0
		cancelledInc := 0
		conflictInc := 0
		participantsInc := 0
		switch kind {
		case "confirmed":
			confirmedInc = 1
			participantsInc = payload.PartySize
		case "cancelled":
			cancelledInc = 1
		case "conflict":
			conflictInc = 1
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO vendor_daily_stats (vendor_id, day, confirmed_count, cancelled_count, conflict_count, participants)
			VALUES ($1, $2::date, $3, $4, $5, $6)
			ON CONFLICT (vendor_id, day)
			DO UPDATE SET confirmed_count = vendor_daily_stats.confirmed_count + EXCLUDED.confirmed_count,
			              cancelled_count = vendor_daily_stats.cancelled_count + EXCLUDED.cancelled_count,
			              conflict_count = vendor_daily_stats.conflict_count + EXCLUDED.conflict_count,
			              participants = vendor_daily_stats.participants + EXCLUDED.participants,
			              updated_at = now()
		`, payload.VendorID, day.UTC(), confirmedInc, cancelledInc, conflictInc, participantsInc); err != nil {
			logger.Error("failed to update daily stats", "err", err)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			logger.Error("failed to commit booking metric", "err", err)
			return err
		}

		logger.Info("booking metric recorded", "booking_id", payload.BookingID, "vendor_id", payload.VendorID, "event_type", meta.EventType)
		return nil
	}

	confirmedConsumer := consumer.New(logger, inboxRepo, newConsumerCfg("booking.confirmed.v1"), func(ctx context.Context, msg kafka.Message) error {
		return handleBookingEvent(ctx, msg, "confirmed")
	})
	go confirmedConsumer.Run(ctx)

	cancelledConsumer := consumer.New(logger, inboxRepo, newConsumerCfg("booking.cancelled.v1"), func(ctx context.Context, msg kafka.Message) error {
		return handleBookingEvent(ctx, msg, "cancelled")
	})
	go cancelledConsumer.Run(ctx)

	conflictConsumer := consumer.New(logger, inboxRepo, newConsumerCfg("booking.capacity_conflict.v1"), func(ctx context.Context, msg kafka.Message) error {
		return handleBookingEvent(ctx, msg, "conflict")
	})
	go conflictConsumer.Run(ctx)

	capturedConsumer := consumer.New(logger, inboxRepo, newConsumerCfg("payment.captured.v1"), func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BookingID     string `json:"booking_id"`
			VendorID      string `json:"vendor_id"`
			AmountCents   int64  `json:"amount_cents"`
			DiscountCents int64  `json:"discount_cents"`
			Currency      string `json:"currency"`
			CapturedAt    string `json:"captured_at"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid payment payload", "err", err)
			return nil
		}
		if payload.BookingID == "" || payload.VendorID == "" || payload.CapturedAt == "" {
			logger.Error("missing payment fields")
			return nil
		}
		capturedAt, err := time.Parse(time.RFC3339, payload.CapturedAt)
		if err != nil {
			logger.Error("invalid captured_at", "err", err)
			return nil
		}

		meta := kafkax.ExtractEventMeta(msg)

		tx, err := pool.Begin(ctx)
		if err != nil {
			logger.Error("db begin failed", "err", err)
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, `
			INSERT INTO payment_metric_events (event_id, vendor_id, booking_id, amount_cents, currency, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id) DO NOTHING
		`, meta.EventID, payload.VendorID, payload.BookingID, payload.AmountCents-payload.DiscountCents, payload.Currency, capturedAt.UTC())
		if err != nil {
			logger.Error("failed to insert payment metric event", "err", err)
			return err
		}
		if tag.RowsAffected() == 0 {
			_ = tx.Commit(ctx)
			return nil
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO vendor_daily_stats (vendor_id, day, revenue_cents)
			VALUES ($1, $2::date, $3)
			ON CONFLICT (vendor_id, day)
			DO UPDATE SET revenue_cents = vendor_daily_stats.revenue_cents + EXCLUDED.revenue_cents,
			              updated_at = now()
		`, payload.VendorID, capturedAt.UTC(), payload.AmountCents-payload.DiscountCents); err != nil {
			logger.Error("failed to update daily revenue", "err", err)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			logger.Error("failed to commit payment metric", "err", err)
			return err
		}

		logger.Info("payment metric recorded", "booking_id", payload.BookingID, "vendor_id", payload.VendorID)
		return nil
	})
	go capturedConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/analytics/daily", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		vendorID := strings.TrimSpace(r.Header.Get("X-Vendor-Id"))
		if vendorID == "" {
			http.Error(w, "missing vendor identity", http.StatusUnauthorized)
			return
		}
		from := strings.TrimSpace(r.URL.Query().Get("from"))
		to := strings.TrimSpace(r.URL.Query().Get("to"))
		if from == "" {
			from = time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")
		}
		if to == "" {
			to = time.Now().UTC().Format("2006-01-02")
		}
		if _, err := time.Parse("2006-01-02", from); err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		if _, err := time.Parse("2006-01-02", to); err != nil {
			http.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}

		rows, err := pool.Query(r.Context(), `
			SELECT day, confirmed_count, cancelled_count, conflict_count, participants, revenue_cents
			  FROM vendor_daily_stats
			 WHERE vendor_id = $1 AND day BETWEEN $2::date AND $3::date
			 ORDER BY day ASC
		`, vendorID, from, to)
		if err != nil {
			logger.Error("failed to query daily stats", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type dailyStat struct {
			Day            string `json:"day"`
			ConfirmedCount int    `json:"confirmed_count"`
			CancelledCount int    `json:"cancelled_count"`
			ConflictCount  int    `json:"conflict_count"`
			Participants   int    `json:"participants"`
			RevenueCents   int64  `json:"revenue_cents"`
		}
		stats := make([]dailyStat, 0)
		for rows.Next() {
			var day time.Time
			var s dailyStat
			if err := rows.Scan(&day, &s.ConfirmedCount, &s.CancelledCount, &s.ConflictCount, &s.Participants, &s.RevenueCents); err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			s.Day = day.Format("2006-01-02")
			stats = append(stats, s)
		}
		if err := rows.Err(); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"vendor_id": vendorID, "days": stats})
	})

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.RunServer(ctx, logger, srv)
}
