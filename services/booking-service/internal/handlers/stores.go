package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/services/booking-service/internal/catalog"
	"github.com/roamly/roamly/services/booking-service/internal/model"
	"github.com/roamly/roamly/services/booking-service/internal/outbox"
	"github.com/roamly/roamly/services/booking-service/internal/storage"
)

// bookingStore is the slice of BookingRepository the handlers use. The seam
// keeps handler tests off the database.
type bookingStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreatePending(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error)
	Confirm(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error)
	Cancel(ctx context.Context, tx pgx.Tx, bookingID, reason string) (time.Time, error)
	GetBooking(ctx context.Context, bookingID string) (model.Booking, error)
	GetBookingForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error)
	ListConfirmedBookings(ctx context.Context, experienceID, from, to string) ([]model.Booking, error)
	ListByExperience(ctx context.Context, experienceID string, limit int) ([]model.Booking, error)
	ListByVendor(ctx context.Context, vendorID string, limit int) ([]model.Booking, error)
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, experienceID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, experienceID, key, bookingID string, statusCode int, response []byte) error
}

type slotStore interface {
	GetExperience(ctx context.Context, experienceID string) (model.Experience, error)
	GetSlot(ctx context.Context, experienceID, slotID string) (model.TimeSlot, error)
	ListSlots(ctx context.Context, experienceID, activityID string) ([]model.TimeSlot, error)
}

type eventOutbox interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

var (
	_ bookingStore = (*storage.BookingRepository)(nil)
	_ slotStore    = (*storage.SlotRepository)(nil)
	_ eventOutbox  = (*outbox.Repository)(nil)
)

// resolveExperience prefers the catalog service's answer when a provider is
// wired. The shared experiences table is the fallback, so a deployment
// without the gRPC feed, or one where the feed is down, keeps serving.
func resolveExperience(ctx context.Context, provider catalog.Provider, slots slotStore, logger *slog.Logger, experienceID string) (model.Experience, error) {
	if provider != nil {
		info, err := provider.GetExperience(ctx, experienceID)
		if err == nil {
			return model.Experience{
				ID:         info.ID,
				VendorID:   info.VendorID,
				Title:      info.Title,
				Timezone:   info.Timezone,
				PriceCents: info.PriceCents,
				Currency:   info.Currency,
			}, nil
		}
		logger.Warn("catalog lookup failed, using shared table", "experience_id", experienceID, "err", err)
	}
	return slots.GetExperience(ctx, experienceID)
}
