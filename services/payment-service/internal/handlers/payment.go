package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roamly/roamly/services/payment-service/internal/coupon"
	"github.com/roamly/roamly/services/payment-service/internal/payments"
	"github.com/roamly/roamly/services/payment-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
)

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	StripeSecretKey               string
	CheckoutSuccessURL            string
	CheckoutCancelURL             string
}

type Handler struct {
	repo   *storage.Repository
	svc    *payments.Service
	logger *slog.Logger
	cfg    Config
}

func New(repo *storage.Repository, svc *payments.Service, logger *slog.Logger, cfg Config) *Handler {
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &Handler{repo: repo, svc: svc, logger: logger, cfg: cfg}
}

type createCheckoutRequest struct {
	BookingID  string `json:"booking_id"`
	CouponCode string `json:"coupon_code"`
	VendorID   string `json:"vendor_id"`
}

// CreateCheckout creates a Stripe Checkout session for a pending booking's
// payment order. The order itself was seeded from booking.created.v1; a
// booking we never heard about gets a 404, not a session.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.cfg.StripeSecretKey) == "" {
		http.Error(w, "checkout is not configured", http.StatusServiceUnavailable)
		return
	}

	var req createCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	bookingID := strings.TrimSpace(req.BookingID)
	if bookingID == "" {
		http.Error(w, "booking_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	order, err := h.repo.GetPaymentOrder(ctx, bookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "payment order not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load payment order", "err", err, "booking_id", bookingID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	switch order.Status {
	case "captured", "refunded":
		http.Error(w, "order already settled", http.StatusConflict)
		return
	case "failed":
		http.Error(w, "order already failed", http.StatusConflict)
		return
	}

	discountCents := int64(0)
	couponCode := strings.ToUpper(strings.TrimSpace(req.CouponCode))
	if couponCode != "" {
		c, err := h.loadCoupon(ctx, order.VendorID, couponCode)
		if err != nil {
			if storage.IsNotFound(err) {
				http.Error(w, "coupon not found", http.StatusNotFound)
				return
			}
			h.logger.Error("failed to load coupon", "err", err, "code", couponCode)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := c.Validate(order.AmountCents, order.Currency, time.Now()); err != nil {
			http.Error(w, "coupon not applicable: "+err.Error(), http.StatusUnprocessableEntity)
			return
		}
		discountCents = c.Discount(order.AmountCents)
	}

	payable := order.AmountCents - discountCents
	if payable <= 0 {
		// A full discount needs no Stripe round-trip; settle immediately.
		if err := h.settleWithoutCharge(ctx, bookingID, couponCode, discountCents); err != nil {
			h.logger.Error("failed to settle free order", "err", err, "booking_id", bookingID)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.recordAudit(ctx, r, "checkout.settled_free", bookingID)
		writeJSON(w, http.StatusOK, map[string]any{
			"booking_id":     bookingID,
			"status":         "captured",
			"amount_cents":   order.AmountCents,
			"discount_cents": discountCents,
		})
		return
	}

	returnToken := newReturnToken()
	successURL := withQueryParam(h.cfg.CheckoutSuccessURL, "return_token", returnToken)
	cancelURL := withQueryParam(h.cfg.CheckoutCancelURL, "return_token", returnToken)

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(order.Currency),
				UnitAmount: stripe.Int64(payable),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Booking " + bookingID),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(bookingID),
	}
	if order.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(order.CustomerEmail)
	}
	params.AddMetadata("booking_id", bookingID)
	params.AddMetadata("vendor_id", order.VendorID)
	if couponCode != "" {
		params.AddMetadata("coupon_code", couponCode)
	}
	// Retried requests for the same booking reuse the same Stripe session.
	params.SetIdempotencyKey("checkout:" + bookingID)

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err, "booking_id", bookingID)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(ctx)
	if err := h.repo.AttachCheckout(ctx, tx, bookingID, sess.ID, couponCode, discountCents); err != nil {
		h.logger.Error("failed to attach checkout session", "err", err, "booking_id", bookingID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.repo.UpsertCheckoutSession(ctx, storage.CheckoutSession{
		SessionID:   sess.ID,
		BookingID:   bookingID,
		Status:      "open",
		ReturnToken: returnToken,
	}); err != nil {
		h.logger.Error("failed to record checkout session", "err", err, "session_id", sess.ID)
	}

	h.recordAudit(ctx, r, "checkout.created", bookingID)
	writeJSON(w, http.StatusOK, map[string]any{
		"booking_id":     bookingID,
		"session_id":     sess.ID,
		"checkout_url":   sess.URL,
		"return_token":   returnToken,
		"amount_cents":   payable,
		"discount_cents": discountCents,
		"currency":       order.Currency,
	})
}

// settleWithoutCharge captures an order whose payable amount is zero.
func (h *Handler) settleWithoutCharge(ctx context.Context, bookingID, couponCode string, discountCents int64) error {
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := h.repo.AttachCheckout(ctx, tx, bookingID, "", couponCode, discountCents); err != nil {
		return err
	}
	if err := h.svc.ApplyCaptured(ctx, tx, bookingID, "", time.Now()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SessionStatus lets the frontend poll the checkout outcome. It accepts either
// the Stripe session id or the opaque return_token embedded in the redirect URL.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var (
		s   storage.CheckoutSession
		err error
	)
	if token := strings.TrimSpace(r.URL.Query().Get("return_token")); token != "" {
		s, err = h.repo.GetCheckoutSessionByReturnToken(ctx, token)
	} else if sessionID := strings.TrimSpace(r.URL.Query().Get("session_id")); sessionID != "" {
		s, err = h.repo.GetCheckoutSession(ctx, sessionID)
	} else {
		http.Error(w, "session_id or return_token is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "checkout session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load checkout session", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	order, err := h.repo.GetPaymentOrder(ctx, s.BookingID)
	if err != nil {
		h.logger.Error("failed to load payment order", "err", err, "booking_id", s.BookingID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   s.SessionID,
		"booking_id":   s.BookingID,
		"status":       s.Status,
		"order_status": order.Status,
	})
}

type ackReturnRequest struct {
	ReturnToken string `json:"return_token"`
}

// AckCheckoutReturn marks the browser's arrival back from Stripe. It is purely
// informational bookkeeping; payment truth always comes from the webhook.
func (h *Handler) AckCheckoutReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ackReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ReturnToken) == "" {
		http.Error(w, "return_token is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	s, err := h.repo.GetCheckoutSessionByReturnToken(ctx, strings.TrimSpace(req.ReturnToken))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "checkout session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if s.Status == "open" {
		tx, err := h.repo.Begin(ctx)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer tx.Rollback(ctx)
		if err := h.repo.MarkCheckoutSessionStatus(ctx, tx, s.SessionID, "returned"); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := tx.Commit(ctx); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": s.SessionID, "booking_id": s.BookingID})
}

// GetOrder returns a payment order by booking id, scoped to the vendor header.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	vendorID := strings.TrimSpace(r.Header.Get("X-Vendor-Id"))
	if vendorID == "" {
		http.Error(w, "missing vendor identity", http.StatusUnauthorized)
		return
	}
	bookingID := strings.TrimSpace(r.URL.Query().Get("booking_id"))
	if bookingID == "" {
		http.Error(w, "booking_id is required", http.StatusBadRequest)
		return
	}
	order, err := h.repo.GetPaymentOrder(r.Context(), bookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "payment order not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if order.VendorID != vendorID {
		http.Error(w, "payment order not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking_id":     order.BookingID,
		"experience_id":  order.ExperienceID,
		"amount_cents":   order.AmountCents,
		"discount_cents": order.DiscountCents,
		"currency":       order.Currency,
		"coupon_code":    order.CouponCode,
		"status":         order.Status,
		"created_at":     order.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":     order.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

type localWebhookRequest struct {
	BookingID string `json:"booking_id"`
	Outcome   string `json:"outcome"`
}

// LocalWebhook settles an order without Stripe. Development only; refuses to
// run when a real webhook secret is configured.
func (h *Handler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.cfg.StripeWebhookSecret) != "" {
		http.Error(w, "local webhook disabled", http.StatusForbidden)
		return
	}
	var req localWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.BookingID) == "" {
		http.Error(w, "booking_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(ctx)

	switch strings.TrimSpace(req.Outcome) {
	case "", "captured":
		err = h.svc.ApplyCaptured(ctx, tx, req.BookingID, "pi_local", time.Now())
	case "failed":
		err = h.svc.ApplyFailed(ctx, tx, req.BookingID, "local_webhook", time.Now())
	default:
		http.Error(w, "outcome must be captured or failed", http.StatusBadRequest)
		return
	}
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "payment order not found", http.StatusNotFound)
			return
		}
		h.logger.Error("local webhook apply failed", "err", err, "booking_id", req.BookingID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"booking_id": req.BookingID, "outcome": defaultOutcome(req.Outcome)})
}

func defaultOutcome(s string) string {
	if strings.TrimSpace(s) == "" {
		return "captured"
	}
	return strings.TrimSpace(s)
}

func (h *Handler) loadCoupon(ctx context.Context, vendorID, code string) (coupon.Coupon, error) {
	c, err := h.repo.GetCoupon(ctx, vendorID, code)
	if err != nil {
		return coupon.Coupon{}, err
	}
	return coupon.Coupon{
		Code:           c.Code,
		PercentOff:     c.PercentOff,
		AmountOffCents: c.AmountOffCents,
		Currency:       c.Currency,
		MinAmountCents: c.MinAmountCents,
		MaxRedemptions: c.MaxRedemptions,
		RedeemedCount:  c.RedeemedCount,
		Active:         c.Active,
		ExpiresAt:      c.ExpiresAt,
	}, nil
}

func (h *Handler) recordAudit(ctx context.Context, r *http.Request, action, subject string) {
	err := h.repo.InsertAuditEvent(ctx,
		r.Header.Get("X-Role"),
		r.Header.Get("X-User-Id"),
		action,
		subject,
		r.Header.Get("X-Request-Id"),
	)
	if err != nil {
		h.logger.Warn("failed to record audit event", "err", err, "action", action)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newReturnToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func withQueryParam(rawURL, key, value string) string {
	if rawURL == "" || value == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

