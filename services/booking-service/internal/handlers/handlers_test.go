package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/roamly/roamly/services/booking-service/internal/model"
)

func TestParsePartySize(t *testing.T) {
	cases := []struct {
		query  string
		want   int
		wantOK bool
	}{
		{"", 1, true},
		{"party_size=3", 3, true},
		{"party_size=1", 1, true},
		{"party_size=0", 0, false},
		{"party_size=-2", 0, false},
		{"party_size=abc", 0, false},
	}
	for _, c := range cases {
		r := httptest.NewRequest("GET", "/v1/availability/slots?"+c.query, nil)
		w := httptest.NewRecorder()
		got, ok := parsePartySize(w, r)
		if ok != c.wantOK {
			t.Fatalf("query %q: ok = %v, want %v", c.query, ok, c.wantOK)
		}
		if ok && got != c.want {
			t.Fatalf("query %q: got %d, want %d", c.query, got, c.want)
		}
		if !ok && w.Code != 400 {
			t.Fatalf("query %q: expected 400, got %d", c.query, w.Code)
		}
	}
}

func TestExperienceLocation(t *testing.T) {
	exp := model.Experience{Timezone: "Asia/Dhaka"}
	loc := experienceLocation(exp)
	if loc.String() != "Asia/Dhaka" {
		t.Fatalf("expected Asia/Dhaka, got %s", loc)
	}

	for _, tz := range []string{"", "Not/AZone"} {
		loc := experienceLocation(model.Experience{Timezone: tz})
		if loc.String() != "UTC" {
			t.Fatalf("timezone %q should fall back to UTC, got %s", tz, loc)
		}
	}
}

func TestToAvailabilityConversions(t *testing.T) {
	slots := toAvailabilitySlots([]model.TimeSlot{
		{ID: "s1", StartMinute: 540, EndMinute: 660, Capacity: 12},
	})
	if len(slots) != 1 || slots[0].ID != "s1" || slots[0].Capacity != 12 {
		t.Fatalf("unexpected slot conversion: %+v", slots)
	}

	bookings := toAvailabilityBookings([]model.Booking{
		{TimeSlotID: "s1", BookingDate: "2026-09-05", TotalParticipants: 3},
	})
	if len(bookings) != 1 || bookings[0].Date != "2026-09-05" || bookings[0].Participants != 3 {
		t.Fatalf("unexpected booking conversion: %+v", bookings)
	}
}
