package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/libs/httpx"
	"github.com/roamly/roamly/services/booking-service/internal/availability"
	"github.com/roamly/roamly/services/booking-service/internal/catalog"
	"github.com/roamly/roamly/services/booking-service/internal/model"
	"github.com/roamly/roamly/services/booking-service/internal/outbox"
	"github.com/roamly/roamly/services/booking-service/internal/selection"
	"github.com/roamly/roamly/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo       bookingStore
	slots      slotStore
	outboxRepo eventOutbox
	drafts     *selection.Store
	catalog    catalog.Provider
	logger     *slog.Logger
}

func NewBookingHandler(repo bookingStore, slots slotStore, outboxRepo eventOutbox, drafts *selection.Store, catalogProvider catalog.Provider, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:       repo,
		slots:      slots,
		outboxRepo: outboxRepo,
		drafts:     drafts,
		catalog:    catalogProvider,
		logger:     logger,
	}
}

type createBookingRequest struct {
	DraftID       string `json:"draft_id"`
	ExperienceID  string `json:"experience_id"`
	ActivityID    string `json:"activity_id"`
	TimeSlotID    string `json:"time_slot_id"`
	BookingDate   string `json:"booking_date"`
	PartySize     int    `json:"party_size"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	CouponCode    string `json:"coupon_code"`
}

type createBookingResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type confirmBookingRequest struct {
	BookingID string `json:"booking_id"`
}

type bookingStatusResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
	CancelledAt string `json:"cancelled_at,omitempty"`
}

type cancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type listBookingItem struct {
	BookingID    string `json:"booking_id"`
	ExperienceID string `json:"experience_id"`
	TimeSlotID   string `json:"time_slot_id"`
	BookingDate  string `json:"booking_date"`
	PartySize    int    `json:"party_size"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	CustomerName string `json:"customer_name"`
	CreatedAt    string `json:"created_at"`
}

// Create records a pending booking. Pending bookings hold no capacity; the
// slot is only consumed when the booking is confirmed, which is where the
// capacity gate lives. The availability check here fails fast on requests
// that obviously cannot succeed.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	ctx := r.Context()
	if draftID := strings.TrimSpace(req.DraftID); draftID != "" && h.drafts != nil {
		draft, err := h.drafts.Get(ctx, draftID)
		if errors.Is(err, selection.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "draft_not_found", "draft not found or expired")
			return
		}
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load draft")
			return
		}
		if draft.Stage() != selection.StageSlotChosen {
			httpx.WriteError(w, http.StatusConflict, "draft_incomplete", "draft has no slot chosen")
			return
		}
		req.ExperienceID = draft.ExperienceID
		req.ActivityID = draft.ActivityID
		req.TimeSlotID = draft.TimeSlotID
		req.BookingDate = draft.BookingDate
		req.PartySize = draft.PartySize
	}

	req.ExperienceID = strings.TrimSpace(req.ExperienceID)
	req.ActivityID = strings.TrimSpace(req.ActivityID)
	req.TimeSlotID = strings.TrimSpace(req.TimeSlotID)
	req.BookingDate = strings.TrimSpace(req.BookingDate)
	req.CustomerName = strings.TrimSpace(req.CustomerName)

	if req.ExperienceID == "" || req.TimeSlotID == "" || req.BookingDate == "" || req.CustomerName == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "experience_id, time_slot_id, booking_date, and customer_name are required")
		return
	}
	if req.PartySize < 1 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_party_size", "party_size must be at least 1")
		return
	}
	if _, err := time.Parse(availability.DateLayout, req.BookingDate); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "booking_date must be YYYY-MM-DD")
		return
	}

	exp, err := resolveExperience(ctx, h.catalog, h.slots, h.logger, req.ExperienceID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "experience_not_found", "experience not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load experience")
		return
	}
	if req.BookingDate < todayIn(experienceLocation(exp)).Format(availability.DateLayout) {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "date_in_past", "booking_date is in the past")
		return
	}

	slot, err := h.slots.GetSlot(ctx, req.ExperienceID, req.TimeSlotID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "slot_not_found", "time slot not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load slot")
		return
	}

	booked, err := h.repo.ListConfirmedBookings(ctx, req.ExperienceID, req.BookingDate, req.BookingDate)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load bookings")
		return
	}
	annotated, err := availability.Annotate(toAvailabilitySlots([]model.TimeSlot{slot}), toAvailabilityBookings(booked), req.PartySize)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_party_size", err.Error())
		return
	}
	if len(annotated) == 0 || !annotated[0].Bookable {
		httpx.WriteError(w, http.StatusConflict, "capacity_exceeded", "slot cannot take the requested party")
		return
	}

	booking := &model.Booking{
		ExperienceID:      req.ExperienceID,
		VendorID:          exp.VendorID,
		ActivityID:        req.ActivityID,
		TimeSlotID:        req.TimeSlotID,
		BookingDate:       req.BookingDate,
		TotalParticipants: req.PartySize,
		CustomerName:      req.CustomerName,
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
		AmountCents:       exp.PriceCents * int64(req.PartySize),
		Currency:          exp.Currency,
		CouponCode:        strings.TrimSpace(req.CouponCode),
		Status:            model.StatusPending,
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, booking.ExperienceID, idempotencyKey)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to lock idempotency key")
			return
		}
		if exists && rec.BookingID != "" && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			if len(rec.ResponsePayload) > 0 {
				_, _ = w.Write(rec.ResponsePayload)
				return
			}
			_ = json.NewEncoder(w).Encode(createBookingResponse{BookingID: rec.BookingID, Status: model.StatusPending})
			return
		}
	}

	id, err := h.repo.CreatePending(ctx, tx, booking)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to create booking")
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"booking_id":     id,
		"experience_id":  booking.ExperienceID,
		"vendor_id":      booking.VendorID,
		"time_slot_id":   booking.TimeSlotID,
		"booking_date":   booking.BookingDate,
		"party_size":     booking.TotalParticipants,
		"amount_cents":   booking.AmountCents,
		"currency":       booking.Currency,
		"coupon_code":    booking.CouponCode,
		"customer_email": booking.CustomerEmail,
	})
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to build event payload")
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   id,
		EventType:     outbox.EventBookingCreated,
		Payload:       evtPayload,
	}); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to write outbox event")
		return
	}

	resp := createBookingResponse{
		BookingID:   id,
		Status:      model.StatusPending,
		AmountCents: booking.AmountCents,
		Currency:    booking.Currency,
	}
	respBody, err := json.Marshal(resp)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to build response")
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, booking.ExperienceID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to finalize idempotency key")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to commit")
		return
	}

	if draftID := strings.TrimSpace(req.DraftID); draftID != "" && h.drafts != nil {
		if err := h.drafts.Delete(ctx, draftID); err != nil {
			h.logger.Warn("draft cleanup failed", "draft_id", draftID, "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// Confirm applies the capacity gate. The repository locks the slot row and
// recomputes the confirmed total before flipping the status, so the answer
// here is authoritative even when the earlier availability read was stale.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req confirmBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "booking_id required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.Confirm(ctx, tx, req.BookingID)
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			httpx.WriteError(w, http.StatusNotFound, "booking_not_found", "booking not found")
		case errors.Is(err, storage.ErrCapacityExceeded):
			httpx.WriteError(w, http.StatusConflict, "capacity_exceeded", "slot capacity exceeded")
		case errors.Is(err, storage.ErrBookingNotPending):
			httpx.WriteError(w, http.StatusConflict, "not_pending", "booking is not pending")
		default:
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to confirm booking")
		}
		return
	}

	if err := h.insertLifecycleEvent(ctx, tx, outbox.EventBookingConfirmed, booking); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to commit")
		return
	}

	resp := bookingStatusResponse{BookingID: booking.ID, Status: booking.Status}
	if booking.ConfirmedAt != nil {
		resp.ConfirmedAt = booking.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BookingID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "booking_id required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetBookingForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "booking_not_found", "booking not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load booking")
		return
	}

	if booking.Status == model.StatusCancelled && booking.CancelledAt != nil {
		httpx.WriteJSON(w, http.StatusOK, bookingStatusResponse{
			BookingID:   booking.ID,
			Status:      model.StatusCancelled,
			CancelledAt: booking.CancelledAt.UTC().Format(time.RFC3339),
		})
		return
	}
	if booking.Status == model.StatusCompleted {
		httpx.WriteError(w, http.StatusConflict, "already_completed", "completed bookings cannot be cancelled")
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, booking.ID, req.Reason)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to cancel booking")
		return
	}
	booking.Status = model.StatusCancelled
	booking.CancelledAt = &cancelledAt
	booking.CancelReason = req.Reason

	if err := h.insertLifecycleEvent(ctx, tx, outbox.EventBookingCancelled, booking); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to commit")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, bookingStatusResponse{
		BookingID:   booking.ID,
		Status:      model.StatusCancelled,
		CancelledAt: cancelledAt.UTC().Format(time.RFC3339),
	})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	bookingID := strings.TrimSpace(r.URL.Query().Get("booking_id"))
	if bookingID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "booking_id required")
		return
	}

	booking, err := h.repo.GetBooking(r.Context(), bookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "booking_not_found", "booking not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load booking")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toListItem(booking))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	vendorID := strings.TrimSpace(r.Header.Get("X-Vendor-Id"))
	experienceID := strings.TrimSpace(r.URL.Query().Get("experience_id"))
	if vendorID == "" && experienceID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "vendor or experience_id required")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var bookings []model.Booking
	var err error
	if experienceID != "" {
		bookings, err = h.repo.ListByExperience(r.Context(), experienceID, limit)
	} else {
		bookings, err = h.repo.ListByVendor(r.Context(), vendorID, limit)
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to list bookings")
		return
	}

	items := make([]listBookingItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, toListItem(b))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) insertLifecycleEvent(ctx context.Context, tx pgx.Tx, eventType string, b model.Booking) error {
	payload, err := json.Marshal(map[string]any{
		"booking_id":    b.ID,
		"experience_id": b.ExperienceID,
		"vendor_id":     b.VendorID,
		"time_slot_id":  b.TimeSlotID,
		"booking_date":  b.BookingDate,
		"party_size":    b.TotalParticipants,
		"amount_cents":  b.AmountCents,
		"currency":      b.Currency,
		"status":        b.Status,
	})
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func toListItem(b model.Booking) listBookingItem {
	return listBookingItem{
		BookingID:    b.ID,
		ExperienceID: b.ExperienceID,
		TimeSlotID:   b.TimeSlotID,
		BookingDate:  b.BookingDate,
		PartySize:    b.TotalParticipants,
		Status:       b.Status,
		AmountCents:  b.AmountCents,
		Currency:     b.Currency,
		CustomerName: b.CustomerName,
		CreatedAt:    b.CreatedAt.UTC().Format(time.RFC3339),
	}
}
