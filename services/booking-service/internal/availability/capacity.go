package availability

import "errors"

// ErrInvalidPartySize is returned for party sizes below 1. Callers are
// expected to validate at the boundary; the calculator refuses rather than
// silently reporting every slot as bookable.
var ErrInvalidPartySize = errors.New("party size must be at least 1")

// Slot is the capacity-relevant view of a time slot.
type Slot struct {
	ID          string
	StartMinute int
	EndMinute   int
	Capacity    int
}

// Booking is one confirmed reservation counted against a slot's capacity.
type Booking struct {
	TimeSlotID   string
	Date         string // YYYY-MM-DD
	Participants int
}

// SlotAvailability is the derived, never-persisted availability figure for
// one slot on one date.
type SlotAvailability struct {
	Slot
	BookedCount    int
	AvailableSpots int
	Bookable       bool
}

// Annotate computes remaining capacity per slot for a single date.
//
// bookings must already be restricted to that date and to confirmed status;
// the sum of their participants is charged against the matching slot.
// AvailableSpots is clamped at zero, so an oversold slot reports 0 rather
// than a negative figure. A slot is bookable iff it can still take the whole
// party.
func Annotate(slots []Slot, bookings []Booking, partySize int) ([]SlotAvailability, error) {
	if partySize < 1 {
		return nil, ErrInvalidPartySize
	}

	booked := make(map[string]int, len(slots))
	for _, b := range bookings {
		if b.Participants > 0 {
			booked[b.TimeSlotID] += b.Participants
		}
	}

	out := make([]SlotAvailability, 0, len(slots))
	for _, s := range slots {
		count := booked[s.ID]
		spots := s.Capacity - count
		if spots < 0 {
			spots = 0
		}
		out = append(out, SlotAvailability{
			Slot:           s,
			BookedCount:    count,
			AvailableSpots: spots,
			Bookable:       spots >= partySize,
		})
	}
	return out, nil
}
