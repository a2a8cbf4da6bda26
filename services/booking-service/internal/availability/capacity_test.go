package availability

import (
	"errors"
	"testing"
)

func TestAnnotate_Basic(t *testing.T) {
	slots := []Slot{
		{ID: "slot-1", StartMinute: 540, EndMinute: 660, Capacity: 10},
	}
	bookings := []Booking{
		{TimeSlotID: "slot-1", Date: "2026-09-01", Participants: 4},
		{TimeSlotID: "slot-1", Date: "2026-09-01", Participants: 3},
	}

	out, err := Annotate(slots, bookings, 2)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(out))
	}
	if out[0].BookedCount != 7 {
		t.Fatalf("expected booked count 7, got %d", out[0].BookedCount)
	}
	if out[0].AvailableSpots != 3 {
		t.Fatalf("expected 3 spots, got %d", out[0].AvailableSpots)
	}
	if !out[0].Bookable {
		t.Fatal("expected slot bookable for party of 2")
	}
}

func TestAnnotate_PartyLargerThanRemaining(t *testing.T) {
	slots := []Slot{{ID: "slot-1", Capacity: 10}}
	bookings := []Booking{{TimeSlotID: "slot-1", Participants: 7}}

	out, err := Annotate(slots, bookings, 4)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if out[0].AvailableSpots != 3 {
		t.Fatalf("expected 3 spots, got %d", out[0].AvailableSpots)
	}
	if out[0].Bookable {
		t.Fatal("party of 4 should not fit in 3 remaining spots")
	}
}

func TestAnnotate_FullSlot(t *testing.T) {
	slots := []Slot{{ID: "slot-1", Capacity: 6}}
	bookings := []Booking{{TimeSlotID: "slot-1", Participants: 6}}

	out, err := Annotate(slots, bookings, 1)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if out[0].AvailableSpots != 0 || out[0].Bookable {
		t.Fatalf("full slot should report 0 spots and not be bookable, got %d/%v", out[0].AvailableSpots, out[0].Bookable)
	}
}

func TestAnnotate_OverbookedClampsToZero(t *testing.T) {
	slots := []Slot{{ID: "slot-1", Capacity: 4}}
	bookings := []Booking{{TimeSlotID: "slot-1", Participants: 6}}

	out, err := Annotate(slots, bookings, 1)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if out[0].BookedCount != 6 {
		t.Fatalf("expected booked count 6, got %d", out[0].BookedCount)
	}
	if out[0].AvailableSpots != 0 {
		t.Fatalf("spots should clamp at 0, got %d", out[0].AvailableSpots)
	}
}

func TestAnnotate_IgnoresOtherSlots(t *testing.T) {
	slots := []Slot{
		{ID: "slot-a", Capacity: 5},
		{ID: "slot-b", Capacity: 5},
	}
	bookings := []Booking{
		{TimeSlotID: "slot-a", Participants: 5},
		{TimeSlotID: "slot-b", Participants: 1},
	}

	out, err := Annotate(slots, bookings, 2)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if out[0].Bookable {
		t.Fatal("slot-a is full")
	}
	if !out[1].Bookable || out[1].AvailableSpots != 4 {
		t.Fatalf("slot-b should have 4 spots, got %d", out[1].AvailableSpots)
	}
}

func TestAnnotate_RejectsInvalidPartySize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := Annotate([]Slot{{ID: "slot-1", Capacity: 5}}, nil, size); !errors.Is(err, ErrInvalidPartySize) {
			t.Fatalf("party size %d: expected ErrInvalidPartySize, got %v", size, err)
		}
	}
}
