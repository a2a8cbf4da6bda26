package availability

import "time"

// DateLayout is the calendar-date key used throughout the booking flow.
const DateLayout = "2006-01-02"

// DefaultWindowDays is how far ahead the date scanner looks.
const DefaultWindowDays = 365

// AvailableDates scans [today, today+windowDays) and returns, in ascending
// order, every date on which at least one slot can take the whole party.
//
// bookings is the full confirmed set for the experience (not date-filtered);
// it is partitioned by date here. today defines the local day boundary
// (callers pass a clock in the experience's timezone) and dates before it
// are never returned regardless of capacity.
func AvailableDates(slots []Slot, bookings []Booking, partySize int, today time.Time, windowDays int) ([]string, error) {
	if partySize < 1 {
		return nil, ErrInvalidPartySize
	}
	if windowDays <= 0 || len(slots) == 0 {
		return nil, nil
	}

	byDate := make(map[string][]Booking, len(bookings))
	for _, b := range bookings {
		byDate[b.Date] = append(byDate[b.Date], b)
	}

	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	var dates []string
	for i := 0; i < windowDays; i++ {
		key := day.AddDate(0, 0, i).Format(DateLayout)
		annotated, err := Annotate(slots, byDate[key], partySize)
		if err != nil {
			return nil, err
		}
		for _, a := range annotated {
			if a.Bookable {
				dates = append(dates, key)
				break
			}
		}
	}
	return dates, nil
}
