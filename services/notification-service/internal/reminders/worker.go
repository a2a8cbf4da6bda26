package reminders

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/libs/db"
	otelx "github.com/roamly/roamly/libs/otel"
	"github.com/roamly/roamly/services/notification-service/internal/outbox"
)

// Worker drains due reminders into the outbox. The send itself happens in the
// consumer of notification.reminder.due.v1, so delivery failures never roll
// back the scheduling transaction.
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	outbox    *outbox.Repository
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	var ids []int64
	var failed []Reminder
	for _, rem := range due {
		remCtx := otelx.ContextWithTraceContext(ctx, rem.Traceparent, rem.Tracestate)
		payload, err := json.Marshal(map[string]any{
			"booking_id":    rem.BookingID,
			"vendor_id":     rem.VendorID,
			"channel":       rem.Channel,
			"recipient":     rem.Recipient,
			"remind_at":     rem.RemindAt.UTC().Format(time.RFC3339),
			"template_data": rem.TemplateData,
		})
		if err != nil {
			failed = append(failed, rem)
			continue
		}

		if err := w.outbox.Insert(remCtx, tx, outbox.Event{
			AggregateType: "booking_reminder",
			AggregateID:   rem.BookingID,
			EventType:     outbox.EventReminderDue,
			Payload:       payload,
		}); err != nil {
			failed = append(failed, rem)
			continue
		}
		ids = append(ids, rem.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, ids); err != nil {
		return err
	}

	for _, rem := range failed {
		remCtx := otelx.ContextWithTraceContext(ctx, rem.Traceparent, rem.Tracestate)
		nextRunAt := time.Now().UTC().Add(w.backoff)
		attempts := rem.Attempts + 1
		if err := w.repo.MarkFailed(ctx, tx, rem.ID, attempts, rem.MaxAttempts, nextRunAt, "outbox enqueue failed"); err != nil {
			return err
		}

		if attempts >= rem.MaxAttempts {
			if err := w.enqueueDLQ(remCtx, tx, rem, "max attempts reached"); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func (w *Worker) enqueueDLQ(ctx context.Context, tx pgx.Tx, rem Reminder, reason string) error {
	payload, err := json.Marshal(map[string]any{
		"booking_id":    rem.BookingID,
		"vendor_id":     rem.VendorID,
		"channel":       rem.Channel,
		"recipient":     rem.Recipient,
		"remind_at":     rem.RemindAt.UTC().Format(time.RFC3339),
		"template_data": rem.TemplateData,
		"error_reason":  reason,
		"failed_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking_reminder",
		AggregateID:   rem.BookingID,
		EventType:     outbox.EventReminderDLQ,
		Payload:       payload,
	})
}
