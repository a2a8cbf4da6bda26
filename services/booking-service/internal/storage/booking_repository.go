package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/roamly/roamly/libs/db"
	"github.com/roamly/roamly/services/booking-service/internal/model"
)

// ErrCapacityExceeded is returned by Confirm when the requested party no
// longer fits in the slot. The client-facing availability read is only a
// hint; this check against locked rows is the real gate.
var ErrCapacityExceeded = errors.New("slot capacity exceeded")

// ErrBookingNotPending is returned when a lifecycle transition targets a
// booking that already left the pending state.
var ErrBookingNotPending = errors.New("booking is not pending")

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	ExperienceID    string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, experienceID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, experienceID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (experience_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (experience_id, idempotency_key) DO NOTHING
	`, experienceID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, experienceID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, experienceID, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE experience_id = $1 AND idempotency_key = $2
	`, experienceID, key, bookingID, statusCode, response)
	return err
}

func (r *BookingRepository) CreatePending(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(experience_id, vendor_id, activity_id, time_slot_id, booking_date, total_participants,
			 customer_name, customer_email, customer_phone, amount_cents, currency, coupon_code, status)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5::date, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), 'pending')
		RETURNING id
	`, b.ExperienceID, b.VendorID, b.ActivityID, b.TimeSlotID, b.BookingDate, b.TotalParticipants,
		b.CustomerName, b.CustomerEmail, b.CustomerPhone, b.AmountCents, b.Currency, b.CouponCode).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetBooking(ctx context.Context, bookingID string) (model.Booking, error) {
	return r.scanBooking(r.pool.QueryRow(ctx, bookingSelect+` WHERE id = $1`, bookingID))
}

func (r *BookingRepository) GetBookingForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error) {
	return r.scanBooking(tx.QueryRow(ctx, bookingSelect+` WHERE id = $1 FOR UPDATE`, bookingID))
}

// Confirm transitions a pending booking to confirmed after re-checking
// capacity against committed state. The slot row is locked first so two
// concurrent confirms for the same slot serialize and the second one sees
// the first one's participants in the sum.
func (r *BookingRepository) Confirm(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error) {
	b, err := r.GetBookingForUpdate(ctx, tx, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status == model.StatusConfirmed {
		return b, nil
	}
	if b.Status != model.StatusPending {
		return model.Booking{}, ErrBookingNotPending
	}

	var capacity int
	err = tx.QueryRow(ctx, `
		SELECT capacity FROM time_slots WHERE id = $1 FOR UPDATE
	`, b.TimeSlotID).Scan(&capacity)
	if err != nil {
		return model.Booking{}, err
	}

	var booked int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_participants), 0)
		FROM bookings
		WHERE time_slot_id = $1
			AND booking_date = $2::date
			AND status = 'confirmed'
	`, b.TimeSlotID, b.BookingDate).Scan(&booked)
	if err != nil {
		return model.Booking{}, err
	}
	if booked+b.TotalParticipants > capacity {
		return model.Booking{}, ErrCapacityExceeded
	}

	var confirmedAt time.Time
	err = tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'confirmed',
			confirmed_at = now()
		WHERE id = $1
		RETURNING confirmed_at
	`, bookingID).Scan(&confirmedAt)
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.StatusConfirmed
	b.ConfirmedAt = &confirmedAt
	return b, nil
}

func (r *BookingRepository) Cancel(ctx context.Context, tx pgx.Tx, bookingID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancel_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, bookingID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// ListConfirmedBookings feeds the availability calculator. from and to
// bound booking_date when non-empty; an empty range loads the whole
// confirmed set for the experience.
func (r *BookingRepository) ListConfirmedBookings(ctx context.Context, experienceID, from, to string) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, bookingSelect+`
		WHERE experience_id = $1
			AND status = 'confirmed'
			AND ($2 = '' OR booking_date >= $2::date)
			AND ($3 = '' OR booking_date <= $3::date)
		ORDER BY booking_date ASC, created_at ASC
	`, experienceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectBookings(rows)
}

func (r *BookingRepository) ListByExperience(ctx context.Context, experienceID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, bookingSelect+`
		WHERE experience_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, experienceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectBookings(rows)
}

func (r *BookingRepository) ListByVendor(ctx context.Context, vendorID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, bookingSelect+`
		WHERE vendor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, vendorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectBookings(rows)
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const bookingSelect = `
	SELECT id, experience_id, vendor_id, COALESCE(activity_id::text, ''), time_slot_id,
		booking_date::text, total_participants, status,
		customer_name, customer_email, customer_phone,
		amount_cents, currency, COALESCE(coupon_code, ''),
		confirmed_at, cancelled_at, COALESCE(cancel_reason, ''), created_at
	FROM bookings`

func (r *BookingRepository) scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var confirmedAt, cancelledAt *time.Time
	err := row.Scan(
		&b.ID,
		&b.ExperienceID,
		&b.VendorID,
		&b.ActivityID,
		&b.TimeSlotID,
		&b.BookingDate,
		&b.TotalParticipants,
		&b.Status,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.CustomerPhone,
		&b.AmountCents,
		&b.Currency,
		&b.CouponCode,
		&confirmedAt,
		&cancelledAt,
		&b.CancelReason,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.ConfirmedAt = confirmedAt
	b.CancelledAt = cancelledAt
	return b, nil
}

func (r *BookingRepository) collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	var bookings []model.Booking
	for rows.Next() {
		b, err := r.scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, experienceID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT experience_id::text,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE experience_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, experienceID, key).Scan(
		&rec.ExperienceID,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
