package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roamly/roamly/libs/httpx"
	"github.com/roamly/roamly/services/booking-service/internal/availability"
	"github.com/roamly/roamly/services/booking-service/internal/catalog"
	"github.com/roamly/roamly/services/booking-service/internal/model"
	"github.com/roamly/roamly/services/booking-service/internal/storage"
)

type AvailabilityHandler struct {
	slots    slotStore
	bookings bookingStore
	catalog  catalog.Provider
	logger   *slog.Logger
}

func NewAvailabilityHandler(slots slotStore, bookings bookingStore, catalogProvider catalog.Provider, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		slots:    slots,
		bookings: bookings,
		catalog:  catalogProvider,
		logger:   logger,
	}
}

type slotAvailabilityItem struct {
	TimeSlotID     string `json:"time_slot_id"`
	StartMinute    int    `json:"start_minute"`
	EndMinute      int    `json:"end_minute"`
	Capacity       int    `json:"capacity"`
	BookedCount    int    `json:"booked_count"`
	AvailableSpots int    `json:"available_spots"`
	IsBookable     bool   `json:"is_bookable"`
}

type slotsResponse struct {
	ExperienceID string                 `json:"experience_id"`
	Date         string                 `json:"date"`
	PartySize    int                    `json:"party_size"`
	Slots        []slotAvailabilityItem `json:"slots"`
}

type datesResponse struct {
	ExperienceID string   `json:"experience_id"`
	PartySize    int      `json:"party_size"`
	WindowDays   int      `json:"window_days"`
	Dates        []string `json:"dates"`
}

// Slots answers "which slots on this date can take my party". Dates in the
// past return an empty list rather than an error; the calendar simply has
// nothing to offer there.
func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	experienceID := strings.TrimSpace(r.URL.Query().Get("experience_id"))
	activityID := strings.TrimSpace(r.URL.Query().Get("activity_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if experienceID == "" || dateStr == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "experience_id and date are required")
		return
	}
	partySize, ok := parsePartySize(w, r)
	if !ok {
		return
	}
	if _, err := time.Parse(availability.DateLayout, dateStr); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	ctx := r.Context()
	exp, err := resolveExperience(ctx, h.catalog, h.slots, h.logger, experienceID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "experience_not_found", "experience not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load experience")
		return
	}

	resp := slotsResponse{
		ExperienceID: experienceID,
		Date:         dateStr,
		PartySize:    partySize,
		Slots:        []slotAvailabilityItem{},
	}

	if dateStr < todayIn(experienceLocation(exp)).Format(availability.DateLayout) {
		httpx.WriteJSON(w, http.StatusOK, resp)
		return
	}

	slots, err := h.slots.ListSlots(ctx, experienceID, activityID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load slots")
		return
	}
	booked, err := h.bookings.ListConfirmedBookings(ctx, experienceID, dateStr, dateStr)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load bookings")
		return
	}

	annotated, err := availability.Annotate(toAvailabilitySlots(slots), toAvailabilityBookings(booked), partySize)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_party_size", err.Error())
		return
	}
	for _, a := range annotated {
		resp.Slots = append(resp.Slots, slotAvailabilityItem{
			TimeSlotID:     a.ID,
			StartMinute:    a.StartMinute,
			EndMinute:      a.EndMinute,
			Capacity:       a.Capacity,
			BookedCount:    a.BookedCount,
			AvailableSpots: a.AvailableSpots,
			IsBookable:     a.Bookable,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Dates scans the rolling booking window and returns the dates with at
// least one slot the party fits in. "Today" is evaluated in the
// experience's own timezone so a traveller browsing from another continent
// sees the vendor's calendar, not their own.
func (h *AvailabilityHandler) Dates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	experienceID := strings.TrimSpace(r.URL.Query().Get("experience_id"))
	activityID := strings.TrimSpace(r.URL.Query().Get("activity_id"))
	if experienceID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "experience_id is required")
		return
	}
	partySize, ok := parsePartySize(w, r)
	if !ok {
		return
	}

	windowDays := availability.DefaultWindowDays
	if raw := strings.TrimSpace(r.URL.Query().Get("window_days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_window", "window_days must be a positive integer")
			return
		}
		if n > availability.DefaultWindowDays {
			n = availability.DefaultWindowDays
		}
		windowDays = n
	}

	ctx := r.Context()
	exp, err := resolveExperience(ctx, h.catalog, h.slots, h.logger, experienceID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "experience_not_found", "experience not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load experience")
		return
	}

	today := todayIn(experienceLocation(exp))
	from := today.Format(availability.DateLayout)
	to := today.AddDate(0, 0, windowDays-1).Format(availability.DateLayout)

	slots, err := h.slots.ListSlots(ctx, experienceID, activityID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load slots")
		return
	}
	booked, err := h.bookings.ListConfirmedBookings(ctx, experienceID, from, to)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to load bookings")
		return
	}

	dates, err := availability.AvailableDates(toAvailabilitySlots(slots), toAvailabilityBookings(booked), partySize, today, windowDays)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_party_size", err.Error())
		return
	}
	if dates == nil {
		dates = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, datesResponse{
		ExperienceID: experienceID,
		PartySize:    partySize,
		WindowDays:   windowDays,
		Dates:        dates,
	})
}

func parsePartySize(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("party_size"))
	if raw == "" {
		return 1, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_party_size", "party_size must be at least 1")
		return 0, false
	}
	return n, true
}

func experienceLocation(exp model.Experience) *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(exp.Timezone))
	if err != nil || exp.Timezone == "" {
		return time.UTC
	}
	return loc
}

func todayIn(loc *time.Location) time.Time {
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

func toAvailabilitySlots(slots []model.TimeSlot) []availability.Slot {
	out := make([]availability.Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, availability.Slot{
			ID:          s.ID,
			StartMinute: s.StartMinute,
			EndMinute:   s.EndMinute,
			Capacity:    s.Capacity,
		})
	}
	return out
}

func toAvailabilityBookings(bookings []model.Booking) []availability.Booking {
	out := make([]availability.Booking, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, availability.Booking{
			TimeSlotID:   b.TimeSlotID,
			Date:         b.BookingDate,
			Participants: b.TotalParticipants,
		})
	}
	return out
}
