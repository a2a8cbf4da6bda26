package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/services/booking-service/internal/model"
	"github.com/roamly/roamly/services/booking-service/internal/outbox"
	"github.com/roamly/roamly/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

// fakeTx satisfies pgx.Tx through the embedded interface; only the methods
// the consumer handlers touch are overridden.
type fakeTx struct {
	pgx.Tx
	commits   int
	rollbacks int
}

func (t *fakeTx) Commit(_ context.Context) error   { t.commits++; return nil }
func (t *fakeTx) Rollback(_ context.Context) error { t.rollbacks++; return nil }

type fakeBeginner struct {
	tx *fakeTx
}

func (b *fakeBeginner) Begin(_ context.Context) (pgx.Tx, error) { return b.tx, nil }

type fakeLifecycle struct {
	booking      model.Booking
	confirmErr   error
	cancelled    []string
	cancelReason string
}

func (f *fakeLifecycle) Confirm(_ context.Context, _ pgx.Tx, bookingID string) (model.Booking, error) {
	if f.confirmErr != nil {
		return model.Booking{}, f.confirmErr
	}
	b := f.booking
	b.ID = bookingID
	b.Status = model.StatusConfirmed
	return b, nil
}

func (f *fakeLifecycle) GetBookingForUpdate(_ context.Context, _ pgx.Tx, bookingID string) (model.Booking, error) {
	b := f.booking
	b.ID = bookingID
	return b, nil
}

func (f *fakeLifecycle) Cancel(_ context.Context, _ pgx.Tx, bookingID, reason string) (time.Time, error) {
	f.cancelled = append(f.cancelled, bookingID)
	f.cancelReason = reason
	return time.Now().UTC(), nil
}

type fakeOutbox struct {
	events []outbox.Event
}

func (f *fakeOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func capturedMessage(bookingID string) kafka.Message {
	return kafka.Message{
		Topic: "payment.captured.v1",
		Value: []byte(`{"booking_id":"` + bookingID + `"}`),
	}
}

func TestPaymentCapturedConfirmsBooking(t *testing.T) {
	tx := &fakeTx{}
	repo := &fakeLifecycle{booking: model.Booking{Status: model.StatusPending}}
	events := &fakeOutbox{}

	handle := paymentCapturedHandler(&fakeBeginner{tx: tx}, repo, events, testLogger())
	if err := handle(context.Background(), capturedMessage("bk-1")); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if len(events.events) != 1 || events.events[0].EventType != outbox.EventBookingConfirmed {
		t.Fatalf("expected one %s event, got %+v", outbox.EventBookingConfirmed, events.events)
	}
	if events.events[0].AggregateID != "bk-1" {
		t.Fatalf("event keyed by %q, want bk-1", events.events[0].AggregateID)
	}
	if tx.commits != 1 {
		t.Fatalf("expected commit, got %d", tx.commits)
	}
	if len(repo.cancelled) != 0 {
		t.Fatalf("confirm path must not cancel, cancelled %v", repo.cancelled)
	}
}

// The slot can fill up between payment capture and confirmation. The handler
// must then cancel the booking and emit a capacity conflict instead of
// confirming over capacity.
func TestPaymentCapturedCapacityConflict(t *testing.T) {
	tx := &fakeTx{}
	repo := &fakeLifecycle{
		booking:    model.Booking{Status: model.StatusPending, TimeSlotID: "slot-1"},
		confirmErr: storage.ErrCapacityExceeded,
	}
	events := &fakeOutbox{}

	handle := paymentCapturedHandler(&fakeBeginner{tx: tx}, repo, events, testLogger())
	if err := handle(context.Background(), capturedMessage("bk-2")); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if len(repo.cancelled) != 1 || repo.cancelled[0] != "bk-2" {
		t.Fatalf("expected bk-2 cancelled, got %v", repo.cancelled)
	}
	if len(events.events) != 1 || events.events[0].EventType != outbox.EventBookingCapacityConflict {
		t.Fatalf("expected one %s event, got %+v", outbox.EventBookingCapacityConflict, events.events)
	}
	if tx.commits != 1 {
		t.Fatalf("cancel-with-conflict must commit, got %d commits", tx.commits)
	}
}

func TestPaymentCapturedSkipsNonPending(t *testing.T) {
	tx := &fakeTx{}
	repo := &fakeLifecycle{confirmErr: storage.ErrBookingNotPending}
	events := &fakeOutbox{}

	handle := paymentCapturedHandler(&fakeBeginner{tx: tx}, repo, events, testLogger())
	if err := handle(context.Background(), capturedMessage("bk-3")); err != nil {
		t.Fatalf("non-pending booking should not error the consumer: %v", err)
	}
	if len(events.events) != 0 || tx.commits != 0 {
		t.Fatalf("non-pending booking must be a no-op, events %v commits %d", events.events, tx.commits)
	}
}

func TestPaymentFailedCancelsPending(t *testing.T) {
	tx := &fakeTx{}
	repo := &fakeLifecycle{booking: model.Booking{Status: model.StatusPending}}
	events := &fakeOutbox{}

	handle := paymentFailedHandler(&fakeBeginner{tx: tx}, repo, events, testLogger())
	msg := kafka.Message{
		Topic: "payment.failed.v1",
		Value: []byte(`{"booking_id":"bk-4","reason":"card declined"}`),
	}
	if err := handle(context.Background(), msg); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if len(repo.cancelled) != 1 || repo.cancelReason != "card declined" {
		t.Fatalf("expected cancel with reason, got %v %q", repo.cancelled, repo.cancelReason)
	}
	if len(events.events) != 1 || events.events[0].EventType != outbox.EventBookingCancelled {
		t.Fatalf("expected one %s event, got %+v", outbox.EventBookingCancelled, events.events)
	}
}
