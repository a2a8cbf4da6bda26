package handlers

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roamly/roamly/services/booking-service/internal/catalog"
	"github.com/roamly/roamly/services/booking-service/internal/model"
)

type fakeSlotStore struct {
	experience model.Experience
	expErr     error
}

func (f *fakeSlotStore) GetExperience(_ context.Context, _ string) (model.Experience, error) {
	return f.experience, f.expErr
}

func (f *fakeSlotStore) GetSlot(_ context.Context, _, _ string) (model.TimeSlot, error) {
	return model.TimeSlot{}, nil
}

func (f *fakeSlotStore) ListSlots(_ context.Context, _, _ string) ([]model.TimeSlot, error) {
	return nil, nil
}

type fakeCatalogProvider struct {
	info catalog.ExperienceInfo
	err  error
}

func (f *fakeCatalogProvider) GetExperience(_ context.Context, _ string) (catalog.ExperienceInfo, error) {
	return f.info, f.err
}

// An explicit party_size of zero is rejected like any other size below one;
// only an omitted field defaults.
func TestDraftCreateRejectsNonPositivePartySize(t *testing.T) {
	h := NewDraftHandler(nil, nil, nil, nil, discardLogger())

	for _, body := range []string{
		`{"experience_id":"exp-1","party_size":0}`,
		`{"experience_id":"exp-1","party_size":-2}`,
	} {
		r := httptest.NewRequest("POST", "/api/v1/public/drafts", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.Create(w, r)

		if w.Code != 400 {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
		if code := decodeErrorCode(t, w.Body.Bytes()); code != "invalid_party_size" {
			t.Fatalf("body %s: expected invalid_party_size, got %q", body, code)
		}
	}
}

func TestResolveExperiencePrefersCatalog(t *testing.T) {
	slots := &fakeSlotStore{experience: model.Experience{ID: "exp-1", Timezone: "UTC"}}
	provider := &fakeCatalogProvider{info: catalog.ExperienceInfo{
		ID:         "exp-1",
		VendorID:   "vendor-1",
		Timezone:   "Asia/Dhaka",
		PriceCents: 5000,
		Currency:   "BDT",
	}}

	exp, err := resolveExperience(context.Background(), provider, slots, discardLogger(), "exp-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if exp.Timezone != "Asia/Dhaka" || exp.VendorID != "vendor-1" || exp.PriceCents != 5000 {
		t.Fatalf("catalog answer should win, got %+v", exp)
	}
}

func TestResolveExperienceFallsBackToSharedTable(t *testing.T) {
	slots := &fakeSlotStore{experience: model.Experience{ID: "exp-1", Timezone: "UTC", VendorID: "vendor-1"}}

	for name, provider := range map[string]catalog.Provider{
		"nil provider":  nil,
		"catalog error": &fakeCatalogProvider{err: errors.New("unavailable")},
	} {
		exp, err := resolveExperience(context.Background(), provider, slots, discardLogger(), "exp-1")
		if err != nil {
			t.Fatalf("%s: resolve: %v", name, err)
		}
		if exp.VendorID != "vendor-1" {
			t.Fatalf("%s: expected shared-table row, got %+v", name, exp)
		}
	}
}
