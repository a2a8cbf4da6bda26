package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/roamly/roamly/libs/httpx"
	"github.com/roamly/roamly/services/booking-service/internal/availability"
	"github.com/roamly/roamly/services/booking-service/internal/catalog"
	"github.com/roamly/roamly/services/booking-service/internal/model"
	"github.com/roamly/roamly/services/booking-service/internal/selection"
	"github.com/roamly/roamly/services/booking-service/internal/storage"
)

type DraftHandler struct {
	store    *selection.Store
	slots    slotStore
	bookings bookingStore
	catalog  catalog.Provider
	logger   *slog.Logger
}

func NewDraftHandler(store *selection.Store, slots slotStore, bookings bookingStore, catalogProvider catalog.Provider, logger *slog.Logger) *DraftHandler {
	return &DraftHandler{
		store:    store,
		slots:    slots,
		bookings: bookings,
		catalog:  catalogProvider,
		logger:   logger,
	}
}

type createDraftRequest struct {
	ExperienceID string `json:"experience_id"`
	// A pointer so an omitted party_size (defaults to 1) is told apart from
	// an explicit 0, which is rejected like any other size below 1.
	PartySize *int `json:"party_size"`
}

type selectRequest struct {
	DraftID     string `json:"draft_id"`
	ActivityID  string `json:"activity_id"`
	BookingDate string `json:"booking_date"`
	TimeSlotID  string `json:"time_slot_id"`
	PartySize   int    `json:"party_size"`
}

type resetRequest struct {
	DraftID string `json:"draft_id"`
	Stage   string `json:"stage"`
}

type draftResponse struct {
	DraftID      string `json:"draft_id"`
	ExperienceID string `json:"experience_id"`
	Stage        string `json:"stage"`
	ActivityID   string `json:"activity_id,omitempty"`
	BookingDate  string `json:"booking_date,omitempty"`
	TimeSlotID   string `json:"time_slot_id,omitempty"`
	PartySize    int    `json:"party_size"`
}

func (h *DraftHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	req.ExperienceID = strings.TrimSpace(req.ExperienceID)
	if req.ExperienceID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "experience_id required")
		return
	}
	partySize := 1
	if req.PartySize != nil {
		if *req.PartySize < 1 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_party_size", "party_size must be at least 1")
			return
		}
		partySize = *req.PartySize
	}

	ctx := r.Context()
	if _, err := resolveExperience(ctx, h.catalog, h.slots, h.logger, req.ExperienceID); err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "experience_not_found", "experience not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load experience")
		return
	}

	draft := selection.NewDraft(uuid.NewString(), req.ExperienceID, partySize, time.Now().UTC())
	if err := h.store.Save(ctx, draft); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to save draft")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toDraftResponse(draft))
}

func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	draftID := strings.TrimSpace(r.URL.Query().Get("draft_id"))
	if draftID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "draft_id required")
		return
	}

	draft, err := h.store.Get(r.Context(), draftID)
	if errors.Is(err, selection.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "draft_not_found", "draft not found or expired")
		return
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load draft")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toDraftResponse(draft))
}

// Select applies exactly one choice per call. A request naming more than one
// field is rejected so the ordering of a multi-field apply never surprises
// the client.
func (h *DraftHandler) Select(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	req.DraftID = strings.TrimSpace(req.DraftID)
	req.ActivityID = strings.TrimSpace(req.ActivityID)
	req.BookingDate = strings.TrimSpace(req.BookingDate)
	req.TimeSlotID = strings.TrimSpace(req.TimeSlotID)
	if req.DraftID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "draft_id required")
		return
	}

	choices := 0
	for _, set := range []bool{req.ActivityID != "", req.BookingDate != "", req.TimeSlotID != "", req.PartySize != 0} {
		if set {
			choices++
		}
	}
	if choices != 1 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_selection", "exactly one of activity_id, booking_date, time_slot_id, or party_size must be set")
		return
	}

	ctx := r.Context()
	draft, err := h.store.Get(ctx, req.DraftID)
	if errors.Is(err, selection.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "draft_not_found", "draft not found or expired")
		return
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load draft")
		return
	}

	now := time.Now().UTC()
	switch {
	case req.ActivityID != "":
		draft.ChooseActivity(req.ActivityID, now)

	case req.BookingDate != "":
		if !h.validDate(w, r, draft, req.BookingDate) {
			return
		}
		if err := draft.ChooseDate(req.BookingDate, now); err != nil {
			httpx.WriteError(w, http.StatusConflict, "selection_out_of_order", "choose an activity first")
			return
		}

	case req.TimeSlotID != "":
		bookable, ok := h.slotBookable(w, r, draft, req.TimeSlotID)
		if !ok {
			return
		}
		if err := draft.ChooseSlot(req.TimeSlotID, bookable, now); err != nil {
			switch {
			case errors.Is(err, selection.ErrOutOfOrder):
				httpx.WriteError(w, http.StatusConflict, "selection_out_of_order", "choose a date first")
			case errors.Is(err, selection.ErrNotBookable):
				httpx.WriteError(w, http.StatusConflict, "slot_not_bookable", "slot cannot take the party")
			default:
				httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to choose slot")
			}
			return
		}

	default:
		if err := draft.SetPartySize(req.PartySize, now); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_party_size", "party_size must be at least 1")
			return
		}
	}

	if err := h.store.Save(ctx, draft); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to save draft")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toDraftResponse(draft))
}

func (h *DraftHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	req.DraftID = strings.TrimSpace(req.DraftID)
	if req.DraftID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "draft_id required")
		return
	}

	ctx := r.Context()
	draft, err := h.store.Get(ctx, req.DraftID)
	if errors.Is(err, selection.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "draft_not_found", "draft not found or expired")
		return
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load draft")
		return
	}

	draft.Reset(strings.TrimSpace(req.Stage), time.Now().UTC())
	if err := h.store.Save(ctx, draft); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to save draft")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toDraftResponse(draft))
}

func (h *DraftHandler) validDate(w http.ResponseWriter, r *http.Request, draft *selection.Draft, dateStr string) bool {
	if _, err := time.Parse(availability.DateLayout, dateStr); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "booking_date must be YYYY-MM-DD")
		return false
	}
	exp, err := resolveExperience(r.Context(), h.catalog, h.slots, h.logger, draft.ExperienceID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load experience")
		return false
	}
	if dateStr < todayIn(experienceLocation(exp)).Format(availability.DateLayout) {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "date_in_past", "booking_date is in the past")
		return false
	}
	return true
}

// slotBookable runs the availability read for the draft's current date and
// party size and reports whether the requested slot still fits.
func (h *DraftHandler) slotBookable(w http.ResponseWriter, r *http.Request, draft *selection.Draft, slotID string) (bool, bool) {
	if draft.BookingDate == "" {
		// ChooseSlot will report the ordering error.
		return false, true
	}

	ctx := r.Context()
	slot, err := h.slots.GetSlot(ctx, draft.ExperienceID, slotID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "slot_not_found", "time slot not found")
			return false, false
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load slot")
		return false, false
	}

	booked, err := h.bookings.ListConfirmedBookings(ctx, draft.ExperienceID, draft.BookingDate, draft.BookingDate)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load bookings")
		return false, false
	}
	annotated, err := availability.Annotate(toAvailabilitySlots([]model.TimeSlot{slot}), toAvailabilityBookings(booked), draft.PartySize)
	if err != nil || len(annotated) == 0 {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to compute availability")
		return false, false
	}
	return annotated[0].Bookable, true
}

func toDraftResponse(d *selection.Draft) draftResponse {
	return draftResponse{
		DraftID:      d.ID,
		ExperienceID: d.ExperienceID,
		Stage:        d.Stage(),
		ActivityID:   d.ActivityID,
		BookingDate:  d.BookingDate,
		TimeSlotID:   d.TimeSlotID,
		PartySize:    d.PartySize,
	}
}
