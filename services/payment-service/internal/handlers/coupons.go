package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roamly/roamly/services/payment-service/internal/storage"
)

func parseAmountCents(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

type createCouponRequest struct {
	Code           string `json:"code"`
	PercentOff     int    `json:"percent_off"`
	AmountOffCents int64  `json:"amount_off_cents"`
	Currency       string `json:"currency"`
	MinAmountCents int64  `json:"min_amount_cents"`
	MaxRedemptions int    `json:"max_redemptions"`
	ExpiresAt      string `json:"expires_at"`
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	vendorID := strings.TrimSpace(r.Header.Get("X-Vendor-Id"))
	if vendorID == "" {
		http.Error(w, "missing vendor identity", http.StatusUnauthorized)
		return
	}
	var req createCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	if req.PercentOff < 0 || req.PercentOff > 100 {
		http.Error(w, "percent_off must be between 0 and 100", http.StatusBadRequest)
		return
	}
	if req.PercentOff == 0 && req.AmountOffCents <= 0 {
		http.Error(w, "coupon needs percent_off or amount_off_cents", http.StatusBadRequest)
		return
	}
	if req.PercentOff > 0 && req.AmountOffCents > 0 {
		http.Error(w, "percent_off and amount_off_cents are mutually exclusive", http.StatusBadRequest)
		return
	}
	var expiresAt *time.Time
	if strings.TrimSpace(req.ExpiresAt) != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			http.Error(w, "expires_at must be RFC3339", http.StatusBadRequest)
			return
		}
		expiresAt = &t
	}

	err := h.repo.CreateCoupon(r.Context(), storage.Coupon{
		Code:           code,
		VendorID:       vendorID,
		PercentOff:     req.PercentOff,
		AmountOffCents: req.AmountOffCents,
		Currency:       strings.ToLower(strings.TrimSpace(req.Currency)),
		MinAmountCents: req.MinAmountCents,
		MaxRedemptions: req.MaxRedemptions,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		h.logger.Error("failed to create coupon", "err", err, "vendor_id", vendorID, "code", code)
		http.Error(w, "failed to create coupon", http.StatusInternalServerError)
		return
	}
	h.recordAudit(r.Context(), r, "coupon.created", code)
	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	vendorID := strings.TrimSpace(r.Header.Get("X-Vendor-Id"))
	if vendorID == "" {
		http.Error(w, "missing vendor identity", http.StatusUnauthorized)
		return
	}
	coupons, err := h.repo.ListCoupons(r.Context(), vendorID)
	if err != nil {
		h.logger.Error("failed to list coupons", "err", err, "vendor_id", vendorID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	items := make([]map[string]any, 0, len(coupons))
	for _, c := range coupons {
		item := map[string]any{
			"code":             c.Code,
			"percent_off":      c.PercentOff,
			"amount_off_cents": c.AmountOffCents,
			"currency":         c.Currency,
			"min_amount_cents": c.MinAmountCents,
			"max_redemptions":  c.MaxRedemptions,
			"redeemed_count":   c.RedeemedCount,
			"active":           c.Active,
		}
		if c.ExpiresAt != nil {
			item["expires_at"] = c.ExpiresAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupons": items})
}

func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	vendorID := strings.TrimSpace(r.Header.Get("X-Vendor-Id"))
	if vendorID == "" {
		http.Error(w, "missing vendor identity", http.StatusUnauthorized)
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if err := h.repo.DeactivateCoupon(r.Context(), vendorID, code); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "coupon not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.recordAudit(r.Context(), r, "coupon.deactivated", code)
	writeJSON(w, http.StatusOK, map[string]string{"code": code, "status": "inactive"})
}

// ValidateCoupon is the public pre-checkout check. It reports the discount a
// coupon would yield for a given amount without redeeming anything.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	vendorID := strings.TrimSpace(q.Get("vendor_id"))
	code := strings.ToUpper(strings.TrimSpace(q.Get("code")))
	if vendorID == "" || code == "" {
		http.Error(w, "vendor_id and code are required", http.StatusBadRequest)
		return
	}
	amount, err := parseAmountCents(q.Get("amount_cents"))
	if err != nil {
		http.Error(w, "amount_cents must be a non-negative integer", http.StatusBadRequest)
		return
	}
	currency := strings.ToLower(strings.TrimSpace(q.Get("currency")))
	if currency == "" {
		currency = "usd"
	}

	c, err := h.loadCoupon(r.Context(), vendorID, code)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "coupon not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := c.Validate(amount, currency, time.Now()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"code":   code,
			"valid":  false,
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":           code,
		"valid":          true,
		"discount_cents": c.Discount(amount),
	})
}
