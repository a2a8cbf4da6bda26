package reminders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	otelx "github.com/roamly/roamly/libs/otel"
)

type Reminder struct {
	ID             int64
	IdempotencyKey string
	BookingID      string
	VendorID       string
	Channel        string
	Recipient      string
	RemindAt       time.Time
	TemplateData   map[string]any
	Traceparent    string
	Tracestate     string
	Attempts       int
	MaxAttempts    int
	NextRunAt      time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rem Reminder) error {
	payload, err := json.Marshal(rem.TemplateData)
	if err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = tx.Exec(ctx, `
		INSERT INTO booking_reminders (idempotency_key, booking_id, vendor_id, channel, recipient, remind_at, template_data, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $6, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, rem.IdempotencyKey, rem.BookingID, rem.VendorID, rem.Channel, rem.Recipient, rem.RemindAt, payload, traceparent, tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Reminder, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, booking_id, vendor_id, channel, recipient, remind_at, template_data, traceparent, tracestate, attempts, max_attempts, next_run_at
		FROM booking_reminders
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var rem Reminder
		var raw []byte
		if err := rows.Scan(&rem.ID, &rem.IdempotencyKey, &rem.BookingID, &rem.VendorID, &rem.Channel, &rem.Recipient, &rem.RemindAt, &raw, &rem.Traceparent, &rem.Tracestate, &rem.Attempts, &rem.MaxAttempts, &rem.NextRunAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rem.TemplateData); err != nil {
				return nil, err
			}
		} else {
			rem.TemplateData = map[string]any{}
		}
		out = append(out, rem)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE booking_reminders
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE booking_reminders
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}

// CancelForBooking drops pending reminders when the booking is cancelled.
func (r *Repository) CancelForBooking(ctx context.Context, tx pgx.Tx, bookingID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_reminders
		SET status = 'cancelled', updated_at = now()
		WHERE booking_id = $1 AND status = 'pending'
	`, bookingID)
	return err
}
