package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/services/payment-service/internal/outbox"
	"github.com/roamly/roamly/services/payment-service/internal/storage"
)

// Service encapsulates payment order state transitions and their side effects
// (outbox events, coupon redemption). Keeping this out of HTTP handlers makes
// it reusable for webhook + reconciliation flows.
type Service struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository) *Service {
	return &Service{repo: repo, outboxRepo: outboxRepo}
}

// ApplyCaptured marks the order captured and emits payment.captured.v1, which
// is what lets the booking side confirm the seat. Already-captured orders are
// a no-op so webhook retries and reconciliation cannot double-emit.
func (s *Service) ApplyCaptured(ctx context.Context, tx pgx.Tx, bookingID, paymentIntentID string, capturedAt time.Time) error {
	order, err := s.repo.GetPaymentOrderForUpdate(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	if order.Status == "captured" || order.Status == "refunded" {
		return nil
	}

	if err := s.repo.MarkOrderCaptured(ctx, tx, bookingID, paymentIntentID); err != nil {
		return err
	}
	if order.CouponCode != "" {
		if err := s.repo.RedeemCoupon(ctx, tx, order.VendorID, order.CouponCode, bookingID); err != nil {
			// The session was already paid at the advertised price; losing the
			// redemption race must not block confirmation.
			if !errors.Is(err, storage.ErrCouponExhausted) {
				return err
			}
		}
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id":        bookingID,
		"experience_id":     order.ExperienceID,
		"vendor_id":         order.VendorID,
		"amount_cents":      order.AmountCents,
		"discount_cents":    order.DiscountCents,
		"currency":          order.Currency,
		"payment_intent_id": paymentIntentID,
		"captured_at":       capturedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment_order",
		AggregateID:   bookingID,
		EventType:     outbox.EventPaymentCaptured,
		Payload:       payload,
	})
}

// ApplyFailed marks the order failed and emits payment.failed.v1 so the booking
// side can release the pending hold. Terminal states stay terminal.
func (s *Service) ApplyFailed(ctx context.Context, tx pgx.Tx, bookingID, reason string, failedAt time.Time) error {
	order, err := s.repo.GetPaymentOrderForUpdate(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	switch order.Status {
	case "captured", "refunded", "failed":
		return nil
	}

	if err := s.repo.MarkOrderFailed(ctx, tx, bookingID); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"booking_id":    bookingID,
		"experience_id": order.ExperienceID,
		"vendor_id":     order.VendorID,
		"reason":        reason,
		"failed_at":     failedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment_order",
		AggregateID:   bookingID,
		EventType:     outbox.EventPaymentFailed,
		Payload:       payload,
	})
}

// ApplyRefunded is used when a captured payment has to be returned, e.g. the
// booking lost the capacity race after payment. The actual Stripe refund is
// issued by the caller; this records the outcome and emits payment.refunded.v1.
func (s *Service) ApplyRefunded(ctx context.Context, tx pgx.Tx, bookingID, reason string, refundedAt time.Time) error {
	order, err := s.repo.GetPaymentOrderForUpdate(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	if order.Status == "refunded" {
		return nil
	}

	if err := s.repo.MarkOrderRefunded(ctx, tx, bookingID); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"booking_id":        bookingID,
		"experience_id":     order.ExperienceID,
		"vendor_id":         order.VendorID,
		"amount_cents":      order.AmountCents - order.DiscountCents,
		"currency":          order.Currency,
		"payment_intent_id": order.StripePaymentIntentID,
		"reason":            reason,
		"refunded_at":       refundedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment_order",
		AggregateID:   bookingID,
		EventType:     outbox.EventPaymentRefunded,
		Payload:       payload,
	})
}
