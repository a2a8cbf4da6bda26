package model

import "time"

// Booking statuses. Only confirmed bookings count against slot capacity.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// TimeSlot is a recurring bookable window for an activity. StartMinute and
// EndMinute are minutes since midnight in the experience's timezone, the same
// representation the catalog stores.
type TimeSlot struct {
	ID           string
	ExperienceID string
	ActivityID   string
	StartMinute  int
	EndMinute    int
	Capacity     int
}

type Booking struct {
	ID                string
	ExperienceID      string
	VendorID          string
	ActivityID        string
	TimeSlotID        string
	BookingDate       string // YYYY-MM-DD
	TotalParticipants int
	Status            string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	AmountCents       int64
	Currency          string
	CouponCode        string
	ConfirmedAt       *time.Time
	CancelledAt       *time.Time
	CancelReason      string
	CreatedAt         time.Time
}

// Experience carries the subset of catalog data booking needs: pricing and
// the timezone that defines the local day boundary for availability scans.
type Experience struct {
	ID         string
	VendorID   string
	Title      string
	Timezone   string
	PriceCents int64 // per participant
	Currency   string
}
