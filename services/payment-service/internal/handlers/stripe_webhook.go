package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/services/payment-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook verifies and applies Stripe events. Every event id is recorded
// before processing so redelivered events are acknowledged without re-running
// their side effects.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	secret := strings.TrimSpace(h.cfg.StripeWebhookSecret)
	if secret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	tolerance := time.Duration(h.cfg.StripeWebhookToleranceSeconds) * time.Second
	event, err := webhook.ConstructEventWithTolerance(payload, r.Header.Get("Stripe-Signature"), secret, tolerance)
	if err != nil {
		h.logger.Warn("stripe webhook signature verification failed", "err", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(ctx)

	if err := h.repo.InsertProviderEvent(ctx, tx, "stripe", event.ID, string(event.Type)); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("failed to record provider event", "err", err, "event_id", event.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		err = h.applyCheckoutCompleted(ctx, tx, event)
	case "checkout.session.expired":
		err = h.applyCheckoutExpired(ctx, tx, event)
	case "charge.refunded":
		err = h.applyChargeRefunded(ctx, tx, event)
	default:
		h.logger.Info("ignoring stripe event", "type", event.Type, "event_id", event.ID)
	}
	if err != nil {
		h.logger.Error("stripe webhook apply failed", "err", err, "type", event.Type, "event_id", event.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) applyCheckoutCompleted(ctx context.Context, tx pgx.Tx, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}
	bookingID := bookingIDFromSession(&sess)
	if bookingID == "" {
		h.logger.Warn("checkout.session.completed without booking reference", "session_id", sess.ID)
		return nil
	}
	paymentIntentID := ""
	if sess.PaymentIntent != nil {
		paymentIntentID = sess.PaymentIntent.ID
	}
	if err := h.repo.MarkCheckoutSessionStatus(ctx, tx, sess.ID, "completed"); err != nil {
		return err
	}
	capturedAt := time.Unix(event.Created, 0).UTC()
	// A missing order row means the booking event is still in flight; the
	// returned error makes Stripe retry the delivery later.
	return h.svc.ApplyCaptured(ctx, tx, bookingID, paymentIntentID, capturedAt)
}

func (h *Handler) applyCheckoutExpired(ctx context.Context, tx pgx.Tx, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}
	bookingID := bookingIDFromSession(&sess)
	if bookingID == "" {
		return nil
	}
	if err := h.repo.MarkCheckoutSessionStatus(ctx, tx, sess.ID, "expired"); err != nil {
		return err
	}
	return h.svc.ApplyFailed(ctx, tx, bookingID, "checkout_expired", time.Unix(event.Created, 0).UTC())
}

func (h *Handler) applyChargeRefunded(ctx context.Context, tx pgx.Tx, event stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return err
	}
	bookingID := strings.TrimSpace(charge.Metadata["booking_id"])
	if bookingID == "" && charge.PaymentIntent != nil {
		order, err := h.orderByPaymentIntent(ctx, tx, charge.PaymentIntent.ID)
		if err != nil {
			if storage.IsNotFound(err) {
				h.logger.Warn("charge.refunded for unknown payment intent", "payment_intent_id", charge.PaymentIntent.ID)
				return nil
			}
			return err
		}
		bookingID = order.BookingID
	}
	if bookingID == "" {
		return nil
	}
	return h.svc.ApplyRefunded(ctx, tx, bookingID, "stripe_refund", time.Unix(event.Created, 0).UTC())
}

func (h *Handler) orderByPaymentIntent(ctx context.Context, tx pgx.Tx, paymentIntentID string) (storage.PaymentOrder, error) {
	return h.repo.GetPaymentOrderByIntent(ctx, tx, paymentIntentID)
}

func bookingIDFromSession(sess *stripe.CheckoutSession) string {
	if id := strings.TrimSpace(sess.ClientReferenceID); id != "" {
		return id
	}
	return strings.TrimSpace(sess.Metadata["booking_id"])
}
