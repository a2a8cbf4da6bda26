package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/services/catalog-service/internal/storage"
)

const minutesPerDay = 24 * 60

type Handler struct {
	repo *storage.Repository
}

func New(repo *storage.Repository) *Handler {
	return &Handler{repo: repo}
}

func vendorIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Vendor-Id"))
}

func (h *Handler) GetVendor(w http.ResponseWriter, r *http.Request) {
	vendorID := vendorIDFromHeader(r)
	if vendorID == "" {
		http.Error(w, "missing X-Vendor-Id", http.StatusBadRequest)
		return
	}

	p, err := h.repo.GetOrCreateVendor(r.Context(), vendorID)
	if err != nil {
		http.Error(w, "failed to load vendor", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"vendor_id": p.VendorID,
		"name":      p.Name,
		"timezone":  p.Timezone,
		"currency":  p.Currency,
	})
}

func (h *Handler) UpdateVendor(w http.ResponseWriter, r *http.Request) {
	vendorID := vendorIDFromHeader(r)
	if vendorID == "" {
		http.Error(w, "missing X-Vendor-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Name     string `json:"name"`
		Timezone string `json:"timezone"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Timezone = strings.TrimSpace(req.Timezone)
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	if err := h.repo.UpdateVendor(r.Context(), vendorID, req.Name, req.Timezone, req.Currency); err != nil {
		http.Error(w, "failed to update vendor", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateExperience(w http.ResponseWriter, r *http.Request) {
	vendorID := vendorIDFromHeader(r)
	if vendorID == "" {
		http.Error(w, "missing X-Vendor-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Timezone    string `json:"timezone"`
		PriceCents  int64  `json:"price_cents"`
		Currency    string `json:"currency"`
		Publish     bool   `json:"publish"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Timezone = strings.TrimSpace(req.Timezone)
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if req.Title == "" || req.PriceCents < 0 {
		http.Error(w, "title required and price_cents must be non-negative", http.StatusBadRequest)
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	id, err := h.repo.CreateExperience(r.Context(), storage.Experience{
		VendorID:    vendorID,
		Title:       req.Title,
		Description: strings.TrimSpace(req.Description),
		Timezone:    req.Timezone,
		PriceCents:  req.PriceCents,
		Currency:    req.Currency,
		IsPublished: req.Publish,
	})
	if err != nil {
		http.Error(w, "failed to create experience", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (h *Handler) ListExperiences(w http.ResponseWriter, r *http.Request) {
	vendorID := vendorIDFromHeader(r)
	if vendorID == "" {
		http.Error(w, "missing X-Vendor-Id", http.StatusBadRequest)
		return
	}

	limit := parseLimit(r, 100)
	exps, err := h.repo.ListExperiences(r.Context(), vendorID, limit)
	if err != nil {
		http.Error(w, "failed to list experiences", http.StatusInternalServerError)
		return
	}
	writeExperiences(w, exps)
}

// BrowseExperiences is the public storefront listing; only published
// experiences show up.
func (h *Handler) BrowseExperiences(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	exps, err := h.repo.ListPublishedExperiences(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list experiences", http.StatusInternalServerError)
		return
	}
	writeExperiences(w, exps)
}

func (h *Handler) PublishExperience(w http.ResponseWriter, r *http.Request) {
	vendorID := vendorIDFromHeader(r)
	if vendorID == "" {
		http.Error(w, "missing X-Vendor-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		ExperienceID string `json:"experience_id"`
		Publish      bool   `json:"publish"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ExperienceID = strings.TrimSpace(req.ExperienceID)
	if req.ExperienceID == "" {
		http.Error(w, "experience_id required", http.StatusBadRequest)
		return
	}

	if err := h.repo.SetExperiencePublished(r.Context(), vendorID, req.ExperienceID, req.Publish); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "experience not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update experience", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	vendorID := vendorIDFromHeader(r)
	if vendorID == "" {
		http.Error(w, "missing X-Vendor-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		ExperienceID string `json:"experience_id"`
		Name         string `json:"name"`
		Description  string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ExperienceID = strings.TrimSpace(req.ExperienceID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ExperienceID == "" || req.Name == "" {
		http.Error(w, "experience_id and name required", http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateActivity(r.Context(), vendorID, req.ExperienceID, req.Name, strings.TrimSpace(req.Description))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "experience not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to create activity", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	experienceID := strings.TrimSpace(r.URL.Query().Get("experience_id"))
	if experienceID == "" {
		http.Error(w, "experience_id required", http.StatusBadRequest)
		return
	}

	activities, err := h.repo.ListActivities(r.Context(), experienceID)
	if err != nil {
		http.Error(w, "failed to list activities", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(activities))
	for _, a := range activities {
		items = append(items, map[string]any{
			"id":            a.ID,
			"experience_id": a.ExperienceID,
			"name":          a.Name,
			"description":   a.Description,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) CreateTimeSlot(w http.ResponseWriter, r *http.Request) {
	vendorID := vendorIDFromHeader(r)
	if vendorID == "" {
		http.Error(w, "missing X-Vendor-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		ExperienceID string `json:"experience_id"`
		ActivityID   string `json:"activity_id"`
		StartMinute  int    `json:"start_minute"`
		EndMinute    int    `json:"end_minute"`
		Capacity     int    `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ExperienceID = strings.TrimSpace(req.ExperienceID)
	if req.ExperienceID == "" {
		http.Error(w, "experience_id required", http.StatusBadRequest)
		return
	}
	if req.StartMinute < 0 || req.EndMinute > minutesPerDay || req.EndMinute <= req.StartMinute {
		http.Error(w, "start_minute and end_minute must describe a window within the day", http.StatusBadRequest)
		return
	}
	if req.Capacity < 1 {
		http.Error(w, "capacity must be at least 1", http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateTimeSlot(r.Context(), vendorID, storage.TimeSlot{
		ExperienceID: req.ExperienceID,
		ActivityID:   strings.TrimSpace(req.ActivityID),
		StartMinute:  req.StartMinute,
		EndMinute:    req.EndMinute,
		Capacity:     req.Capacity,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "experience not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to create time slot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (h *Handler) ListTimeSlots(w http.ResponseWriter, r *http.Request) {
	experienceID := strings.TrimSpace(r.URL.Query().Get("experience_id"))
	if experienceID == "" {
		http.Error(w, "experience_id required", http.StatusBadRequest)
		return
	}

	slots, err := h.repo.ListTimeSlots(r.Context(), experienceID)
	if err != nil {
		http.Error(w, "failed to list time slots", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(slots))
	for _, s := range slots {
		items = append(items, map[string]any{
			"id":            s.ID,
			"experience_id": s.ExperienceID,
			"activity_id":   s.ActivityID,
			"start_minute":  s.StartMinute,
			"end_minute":    s.EndMinute,
			"capacity":      s.Capacity,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) UpdateSlotCapacity(w http.ResponseWriter, r *http.Request) {
	vendorID := vendorIDFromHeader(r)
	if vendorID == "" {
		http.Error(w, "missing X-Vendor-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		SlotID   string `json:"slot_id"`
		Capacity int    `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SlotID = strings.TrimSpace(req.SlotID)
	if req.SlotID == "" || req.Capacity < 1 {
		http.Error(w, "slot_id and a capacity of at least 1 required", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpdateSlotCapacity(r.Context(), vendorID, req.SlotID, req.Capacity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "time slot not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update time slot", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteTimeSlot(w http.ResponseWriter, r *http.Request) {
	vendorID := vendorIDFromHeader(r)
	if vendorID == "" {
		http.Error(w, "missing X-Vendor-Id", http.StatusBadRequest)
		return
	}

	slotID := strings.TrimSpace(r.URL.Query().Get("slot_id"))
	if slotID == "" {
		http.Error(w, "slot_id required", http.StatusBadRequest)
		return
	}

	if err := h.repo.DeleteTimeSlot(r.Context(), vendorID, slotID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "time slot not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete time slot", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseLimit(r *http.Request, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}

func writeExperiences(w http.ResponseWriter, exps []storage.Experience) {
	items := make([]map[string]any, 0, len(exps))
	for _, e := range exps {
		items = append(items, map[string]any{
			"id":           e.ID,
			"vendor_id":    e.VendorID,
			"title":        e.Title,
			"description":  e.Description,
			"timezone":     e.Timezone,
			"price_cents":  e.PriceCents,
			"currency":     e.Currency,
			"is_published": e.IsPublished,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}
