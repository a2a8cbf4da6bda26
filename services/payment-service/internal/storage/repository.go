package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/libs/db"
)

// ErrDuplicateProviderEvent signals that we have already processed this Stripe event.
var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

var ErrCouponExhausted = errors.New("coupon redemption limit reached")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// PaymentOrder mirrors a booking that needs to be paid. Rows are created from
// booking.created.v1 events, never from HTTP requests.
type PaymentOrder struct {
	BookingID             string
	ExperienceID          string
	VendorID              string
	CustomerEmail         string
	AmountCents           int64
	DiscountCents         int64
	Currency              string
	CouponCode            string
	Status                string
	StripeSessionID       string
	StripePaymentIntentID string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

const paymentOrderSelect = `SELECT booking_id, experience_id, vendor_id, customer_email,
       amount_cents, discount_cents, currency, COALESCE(coupon_code, ''), status,
       COALESCE(stripe_session_id, ''), COALESCE(stripe_payment_intent_id, ''),
       created_at, updated_at
  FROM payment_orders`

func scanPaymentOrder(row pgx.Row) (PaymentOrder, error) {
	var o PaymentOrder
	err := row.Scan(&o.BookingID, &o.ExperienceID, &o.VendorID, &o.CustomerEmail,
		&o.AmountCents, &o.DiscountCents, &o.Currency, &o.CouponCode, &o.Status,
		&o.StripeSessionID, &o.StripePaymentIntentID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repository) InsertPaymentOrder(ctx context.Context, o PaymentOrder) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_orders (booking_id, experience_id, vendor_id, customer_email, amount_cents, discount_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, 0, $6, 'pending')
		ON CONFLICT (booking_id) DO NOTHING
	`, o.BookingID, o.ExperienceID, o.VendorID, o.CustomerEmail, o.AmountCents, defaultIfEmpty(o.Currency, "usd"))
	return err
}

func (r *Repository) GetPaymentOrder(ctx context.Context, bookingID string) (PaymentOrder, error) {
	return scanPaymentOrder(r.pool.QueryRow(ctx, paymentOrderSelect+` WHERE booking_id = $1`, bookingID))
}

func (r *Repository) GetPaymentOrderForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (PaymentOrder, error) {
	return scanPaymentOrder(tx.QueryRow(ctx, paymentOrderSelect+` WHERE booking_id = $1 FOR UPDATE`, bookingID))
}

func (r *Repository) GetPaymentOrderBySession(ctx context.Context, tx pgx.Tx, sessionID string) (PaymentOrder, error) {
	return scanPaymentOrder(tx.QueryRow(ctx, paymentOrderSelect+` WHERE stripe_session_id = $1 FOR UPDATE`, sessionID))
}

func (r *Repository) GetPaymentOrderByIntent(ctx context.Context, tx pgx.Tx, paymentIntentID string) (PaymentOrder, error) {
	return scanPaymentOrder(tx.QueryRow(ctx, paymentOrderSelect+` WHERE stripe_payment_intent_id = $1 FOR UPDATE`, paymentIntentID))
}

// AttachCheckout records the Stripe session on the order and any coupon discount
// that was applied when the session was created.
func (r *Repository) AttachCheckout(ctx context.Context, tx pgx.Tx, bookingID, sessionID, couponCode string, discountCents int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders
		   SET status = 'checkout_created',
		       stripe_session_id = NULLIF($2, ''),
		       coupon_code = NULLIF($3, ''),
		       discount_cents = $4,
		       updated_at = now()
		 WHERE booking_id = $1
	`, bookingID, sessionID, couponCode, discountCents)
	return err
}

func (r *Repository) MarkOrderCaptured(ctx context.Context, tx pgx.Tx, bookingID, paymentIntentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders
		   SET status = 'captured',
		       stripe_payment_intent_id = NULLIF($2, ''),
		       updated_at = now()
		 WHERE booking_id = $1
	`, bookingID, paymentIntentID)
	return err
}

func (r *Repository) MarkOrderFailed(ctx context.Context, tx pgx.Tx, bookingID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders SET status = 'failed', updated_at = now() WHERE booking_id = $1
	`, bookingID)
	return err
}

func (r *Repository) MarkOrderRefunded(ctx context.Context, tx pgx.Tx, bookingID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders SET status = 'refunded', updated_at = now() WHERE booking_id = $1
	`, bookingID)
	return err
}

// ListCheckoutOrdersForReconcile returns orders stuck in checkout_created long
// enough that we should ask Stripe what actually happened to the session.
func (r *Repository) ListCheckoutOrdersForReconcile(ctx context.Context, olderThan time.Duration, limit int) ([]PaymentOrder, error) {
	rows, err := r.pool.Query(ctx, paymentOrderSelect+`
		 WHERE status = 'checkout_created'
		   AND stripe_session_id IS NOT NULL
		   AND updated_at < now() - make_interval(secs => $1)
		 ORDER BY updated_at ASC
		 LIMIT $2
	`, olderThan.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentOrder
	for rows.Next() {
		o, err := scanPaymentOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type CheckoutSession struct {
	SessionID   string
	BookingID   string
	Status      string
	ReturnToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r *Repository) UpsertCheckoutSession(ctx context.Context, s CheckoutSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkout_sessions (session_id, booking_id, status, return_token)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = now()
	`, s.SessionID, s.BookingID, defaultIfEmpty(s.Status, "open"), s.ReturnToken)
	return err
}

func (r *Repository) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	var s CheckoutSession
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, booking_id, status, COALESCE(return_token, ''), created_at, updated_at
		  FROM checkout_sessions
		 WHERE session_id = $1
	`, sessionID).Scan(&s.SessionID, &s.BookingID, &s.Status, &s.ReturnToken, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *Repository) GetCheckoutSessionByReturnToken(ctx context.Context, token string) (CheckoutSession, error) {
	var s CheckoutSession
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, booking_id, status, COALESCE(return_token, ''), created_at, updated_at
		  FROM checkout_sessions
		 WHERE return_token = $1
	`, token).Scan(&s.SessionID, &s.BookingID, &s.Status, &s.ReturnToken, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *Repository) MarkCheckoutSessionStatus(ctx context.Context, tx pgx.Tx, sessionID, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions SET status = $2, updated_at = now() WHERE session_id = $1
	`, sessionID, status)
	return err
}

// InsertProviderEvent makes webhook processing idempotent. A second delivery of
// the same Stripe event id inserts nothing and gets ErrDuplicateProviderEvent.
func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, provider, eventID, eventType string) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

type Coupon struct {
	Code           string
	VendorID       string
	PercentOff     int
	AmountOffCents int64
	Currency       string
	MinAmountCents int64
	MaxRedemptions int
	RedeemedCount  int
	Active         bool
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

func (r *Repository) CreateCoupon(ctx context.Context, c Coupon) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO coupons (code, vendor_id, percent_off, amount_off_cents, currency, min_amount_cents, max_redemptions, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.Code, c.VendorID, c.PercentOff, c.AmountOffCents, defaultIfEmpty(c.Currency, "usd"), c.MinAmountCents, c.MaxRedemptions, c.ExpiresAt)
	return err
}

func (r *Repository) GetCoupon(ctx context.Context, vendorID, code string) (Coupon, error) {
	var c Coupon
	err := r.pool.QueryRow(ctx, `
		SELECT code, vendor_id, percent_off, amount_off_cents, currency, min_amount_cents,
		       max_redemptions, redeemed_count, active, expires_at, created_at
		  FROM coupons
		 WHERE vendor_id = $1 AND code = $2
	`, vendorID, code).Scan(&c.Code, &c.VendorID, &c.PercentOff, &c.AmountOffCents, &c.Currency,
		&c.MinAmountCents, &c.MaxRedemptions, &c.RedeemedCount, &c.Active, &c.ExpiresAt, &c.CreatedAt)
	return c, err
}

func (r *Repository) ListCoupons(ctx context.Context, vendorID string) ([]Coupon, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT code, vendor_id, percent_off, amount_off_cents, currency, min_amount_cents,
		       max_redemptions, redeemed_count, active, expires_at, created_at
		  FROM coupons
		 WHERE vendor_id = $1
		 ORDER BY created_at DESC
	`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Coupon
	for rows.Next() {
		var c Coupon
		if err := rows.Scan(&c.Code, &c.VendorID, &c.PercentOff, &c.AmountOffCents, &c.Currency,
			&c.MinAmountCents, &c.MaxRedemptions, &c.RedeemedCount, &c.Active, &c.ExpiresAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) DeactivateCoupon(ctx context.Context, vendorID, code string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE coupons SET active = false WHERE vendor_id = $1 AND code = $2
	`, vendorID, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RedeemCoupon bumps the redemption counter under a guard so a coupon can never
// exceed max_redemptions, and records which booking used it. A second redemption
// for the same booking is a no-op.
func (r *Repository) RedeemCoupon(ctx context.Context, tx pgx.Tx, vendorID, code, bookingID string) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO coupon_redemptions (vendor_id, code, booking_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (booking_id) DO NOTHING
	`, vendorID, code, bookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	tag, err = tx.Exec(ctx, `
		UPDATE coupons
		   SET redeemed_count = redeemed_count + 1
		 WHERE vendor_id = $1 AND code = $2
		   AND (max_redemptions = 0 OR redeemed_count < max_redemptions)
	`, vendorID, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCouponExhausted
	}
	return nil
}

func (r *Repository) InsertAuditEvent(ctx context.Context, actorRole, actorID, action, subject, requestID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_events (actor_role, actor_id, action, subject, request_id)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, $4, NULLIF($5, ''))
	`, actorRole, actorID, action, subject, requestID)
	return err
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func defaultIfEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
