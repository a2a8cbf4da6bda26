package availability

import (
	"errors"
	"testing"
	"time"
)

func TestAvailableDates_NoBookings(t *testing.T) {
	slots := []Slot{{ID: "slot-1", Capacity: 8}}
	today := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)

	dates, err := AvailableDates(slots, nil, 2, today, 7)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(dates) != 7 {
		t.Fatalf("expected all 7 dates, got %d", len(dates))
	}
	if dates[0] != "2026-09-01" || dates[6] != "2026-09-07" {
		t.Fatalf("unexpected range %s..%s", dates[0], dates[len(dates)-1])
	}
}

func TestAvailableDates_SkipsFullDate(t *testing.T) {
	slots := []Slot{{ID: "slot-1", Capacity: 4}}
	bookings := []Booking{
		{TimeSlotID: "slot-1", Date: "2026-09-02", Participants: 4},
		{TimeSlotID: "slot-1", Date: "2026-09-03", Participants: 2},
	}
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	dates, err := AvailableDates(slots, bookings, 2, today, 3)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("expected 2 dates, got %d: %v", len(dates), dates)
	}
	if dates[0] != "2026-09-01" || dates[1] != "2026-09-03" {
		t.Fatalf("expected sep 1 and sep 3, got %v", dates)
	}
}

func TestAvailableDates_SecondSlotKeepsDate(t *testing.T) {
	slots := []Slot{
		{ID: "morning", Capacity: 6},
		{ID: "afternoon", Capacity: 6},
	}
	bookings := []Booking{
		{TimeSlotID: "morning", Date: "2026-09-01", Participants: 6},
		{TimeSlotID: "afternoon", Date: "2026-09-01", Participants: 1},
	}
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	dates, err := AvailableDates(slots, bookings, 3, today, 1)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2026-09-01" {
		t.Fatalf("afternoon slot still fits party of 3, got %v", dates)
	}
}

func TestAvailableDates_EmptyInputs(t *testing.T) {
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	dates, err := AvailableDates(nil, nil, 2, today, 30)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(dates) != 0 {
		t.Fatalf("no slots configured, expected no dates, got %v", dates)
	}

	dates, err = AvailableDates([]Slot{{ID: "slot-1", Capacity: 4}}, nil, 2, today, 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(dates) != 0 {
		t.Fatalf("zero-day window, expected no dates, got %v", dates)
	}
}

func TestAvailableDates_RejectsInvalidPartySize(t *testing.T) {
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if _, err := AvailableDates([]Slot{{ID: "slot-1", Capacity: 4}}, nil, 0, today, 7); !errors.Is(err, ErrInvalidPartySize) {
		t.Fatalf("expected ErrInvalidPartySize, got %v", err)
	}
}
