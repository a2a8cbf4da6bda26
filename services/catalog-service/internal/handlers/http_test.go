package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLimit(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", 100},
		{"limit=25", 25},
		{"limit=0", 100},
		{"limit=-5", 100},
		{"limit=9999", 100},
		{"limit=abc", 100},
	}
	for _, c := range cases {
		r := httptest.NewRequest("GET", "/api/v1/catalog/experiences?"+c.query, nil)
		if got := parseLimit(r, 100); got != c.want {
			t.Fatalf("query %q: got %d, want %d", c.query, got, c.want)
		}
	}
}

func TestCreateTimeSlot_ValidatesWindow(t *testing.T) {
	h := New(nil)
	cases := []string{
		`{"experience_id":"exp-1","start_minute":600,"end_minute":540,"capacity":10}`,
		`{"experience_id":"exp-1","start_minute":-10,"end_minute":60,"capacity":10}`,
		`{"experience_id":"exp-1","start_minute":0,"end_minute":2000,"capacity":10}`,
		`{"experience_id":"exp-1","start_minute":540,"end_minute":660,"capacity":0}`,
		`{"start_minute":540,"end_minute":660,"capacity":10}`,
	}
	for _, body := range cases {
		r := httptest.NewRequest("POST", "/api/v1/catalog/slots", strings.NewReader(body))
		r.Header.Set("X-Vendor-Id", "vendor-1")
		w := httptest.NewRecorder()
		h.CreateTimeSlot(w, r)
		if w.Code != 400 {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestCreateTimeSlot_RequiresVendorHeader(t *testing.T) {
	h := New(nil)
	r := httptest.NewRequest("POST", "/api/v1/catalog/slots", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.CreateTimeSlot(w, r)
	if w.Code != 400 {
		t.Fatalf("expected 400 without X-Vendor-Id, got %d", w.Code)
	}
}
