package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/services/booking-service/internal/model"
	"github.com/roamly/roamly/services/booking-service/internal/outbox"
	"github.com/roamly/roamly/services/booking-service/internal/storage"
)

type fakeTx struct {
	pgx.Tx
	commits   int
	rollbacks int
}

func (t *fakeTx) Commit(_ context.Context) error   { t.commits++; return nil }
func (t *fakeTx) Rollback(_ context.Context) error { t.rollbacks++; return nil }

// fakeBookingStore returns canned answers for the repository methods the
// handlers hit; unconfigured paths return zero values.
type fakeBookingStore struct {
	tx         *fakeTx
	booking    model.Booking
	confirmErr error
	cancelled  []string
}

func (f *fakeBookingStore) Begin(_ context.Context) (pgx.Tx, error) { return f.tx, nil }

func (f *fakeBookingStore) CreatePending(_ context.Context, _ pgx.Tx, _ *model.Booking) (string, error) {
	return "bk-new", nil
}

func (f *fakeBookingStore) Confirm(_ context.Context, _ pgx.Tx, bookingID string) (model.Booking, error) {
	if f.confirmErr != nil {
		return model.Booking{}, f.confirmErr
	}
	b := f.booking
	b.ID = bookingID
	b.Status = model.StatusConfirmed
	now := time.Now().UTC()
	b.ConfirmedAt = &now
	return b, nil
}

func (f *fakeBookingStore) Cancel(_ context.Context, _ pgx.Tx, bookingID, _ string) (time.Time, error) {
	f.cancelled = append(f.cancelled, bookingID)
	return time.Now().UTC(), nil
}

func (f *fakeBookingStore) GetBooking(_ context.Context, bookingID string) (model.Booking, error) {
	b := f.booking
	b.ID = bookingID
	return b, nil
}

func (f *fakeBookingStore) GetBookingForUpdate(_ context.Context, _ pgx.Tx, bookingID string) (model.Booking, error) {
	b := f.booking
	b.ID = bookingID
	return b, nil
}

func (f *fakeBookingStore) ListConfirmedBookings(_ context.Context, _, _, _ string) ([]model.Booking, error) {
	return nil, nil
}

func (f *fakeBookingStore) ListByExperience(_ context.Context, _ string, _ int) ([]model.Booking, error) {
	return nil, nil
}

func (f *fakeBookingStore) ListByVendor(_ context.Context, _ string, _ int) ([]model.Booking, error) {
	return nil, nil
}

func (f *fakeBookingStore) LockIdempotencyKey(_ context.Context, _ pgx.Tx, _, _ string) (storage.IdempotencyRecord, bool, error) {
	return storage.IdempotencyRecord{}, false, nil
}

func (f *fakeBookingStore) FinalizeIdempotency(_ context.Context, _ pgx.Tx, _, _, _ string, _ int, _ []byte) error {
	return nil
}

type fakeEventOutbox struct {
	events []outbox.Event
}

func (f *fakeEventOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body)
	}
	return envelope.Error.Code
}

func TestConfirmRejectsWhenCapacityExceeded(t *testing.T) {
	repo := &fakeBookingStore{tx: &fakeTx{}, confirmErr: storage.ErrCapacityExceeded}
	events := &fakeEventOutbox{}
	h := NewBookingHandler(repo, nil, events, nil, nil, discardLogger())

	r := httptest.NewRequest("POST", "/api/v1/bookings/confirm", strings.NewReader(`{"booking_id":"bk-1"}`))
	w := httptest.NewRecorder()
	h.Confirm(w, r)

	if w.Code != 409 {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w.Body.Bytes()); code != "capacity_exceeded" {
		t.Fatalf("expected capacity_exceeded, got %q", code)
	}
	if len(events.events) != 0 {
		t.Fatalf("no event may be written on a capacity conflict, got %+v", events.events)
	}
	if repo.tx.commits != 0 {
		t.Fatalf("transaction must not commit on a capacity conflict")
	}
}

func TestConfirmFlipsPendingBooking(t *testing.T) {
	repo := &fakeBookingStore{tx: &fakeTx{}, booking: model.Booking{Status: model.StatusPending}}
	events := &fakeEventOutbox{}
	h := NewBookingHandler(repo, nil, events, nil, nil, discardLogger())

	r := httptest.NewRequest("POST", "/api/v1/bookings/confirm", strings.NewReader(`{"booking_id":"bk-2"}`))
	w := httptest.NewRecorder()
	h.Confirm(w, r)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp bookingStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != model.StatusConfirmed || resp.ConfirmedAt == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(events.events) != 1 || events.events[0].EventType != outbox.EventBookingConfirmed {
		t.Fatalf("expected one %s event, got %+v", outbox.EventBookingConfirmed, events.events)
	}
	if repo.tx.commits != 1 {
		t.Fatalf("expected commit, got %d", repo.tx.commits)
	}
}

func TestConfirmRejectsNonPendingBooking(t *testing.T) {
	repo := &fakeBookingStore{tx: &fakeTx{}, confirmErr: storage.ErrBookingNotPending}
	h := NewBookingHandler(repo, nil, &fakeEventOutbox{}, nil, nil, discardLogger())

	r := httptest.NewRequest("POST", "/api/v1/bookings/confirm", strings.NewReader(`{"booking_id":"bk-3"}`))
	w := httptest.NewRecorder()
	h.Confirm(w, r)

	if w.Code != 409 {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w.Body.Bytes()); code != "not_pending" {
		t.Fatalf("expected not_pending, got %q", code)
	}
}
