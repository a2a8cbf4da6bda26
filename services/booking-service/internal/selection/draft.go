package selection

import (
	"errors"
	"time"
)

// Stages of a booking draft. Each choice depends on the one before it, and
// changing an earlier choice clears everything downstream of it.
const (
	StageNoActivity     = "no_activity"
	StageActivityChosen = "activity_chosen"
	StageDateChosen     = "date_chosen"
	StageSlotChosen     = "slot_chosen"
)

var (
	ErrNotFound    = errors.New("draft not found")
	ErrOutOfOrder  = errors.New("selection out of order")
	ErrNotBookable = errors.New("slot cannot take the party")
)

// Draft is a customer's in-progress slot selection. It lives in Redis until
// the customer either creates a booking from it or abandons it.
type Draft struct {
	ID           string    `json:"id"`
	ExperienceID string    `json:"experience_id"`
	ActivityID   string    `json:"activity_id,omitempty"`
	BookingDate  string    `json:"booking_date,omitempty"`
	TimeSlotID   string    `json:"time_slot_id,omitempty"`
	PartySize    int       `json:"party_size"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewDraft(id, experienceID string, partySize int, now time.Time) *Draft {
	if partySize < 1 {
		partySize = 1
	}
	return &Draft{
		ID:           id,
		ExperienceID: experienceID,
		PartySize:    partySize,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (d *Draft) Stage() string {
	switch {
	case d.TimeSlotID != "":
		return StageSlotChosen
	case d.BookingDate != "":
		return StageDateChosen
	case d.ActivityID != "":
		return StageActivityChosen
	default:
		return StageNoActivity
	}
}

// ChooseActivity sets the activity and drops any date and slot picked under
// the previous one.
func (d *Draft) ChooseActivity(activityID string, now time.Time) {
	d.ActivityID = activityID
	d.BookingDate = ""
	d.TimeSlotID = ""
	d.UpdatedAt = now
}

// ChooseDate requires an activity and drops any slot picked on the previous
// date.
func (d *Draft) ChooseDate(date string, now time.Time) error {
	if d.ActivityID == "" {
		return ErrOutOfOrder
	}
	d.BookingDate = date
	d.TimeSlotID = ""
	d.UpdatedAt = now
	return nil
}

// ChooseSlot requires a date. bookable comes from the availability read for
// the draft's current date and party size.
func (d *Draft) ChooseSlot(slotID string, bookable bool, now time.Time) error {
	if d.BookingDate == "" {
		return ErrOutOfOrder
	}
	if !bookable {
		return ErrNotBookable
	}
	d.TimeSlotID = slotID
	d.UpdatedAt = now
	return nil
}

// SetPartySize drops a chosen slot since its fit was checked for the old
// size. Activity and date survive.
func (d *Draft) SetPartySize(size int, now time.Time) error {
	if size < 1 {
		return errors.New("party size must be at least 1")
	}
	d.PartySize = size
	d.TimeSlotID = ""
	d.UpdatedAt = now
	return nil
}

// Reset clears every choice back to the given stage's predecessor. An empty
// stage clears the whole draft back to no activity.
func (d *Draft) Reset(stage string, now time.Time) {
	switch stage {
	case StageSlotChosen:
		d.TimeSlotID = ""
	case StageDateChosen:
		d.BookingDate = ""
		d.TimeSlotID = ""
	default:
		d.ActivityID = ""
		d.BookingDate = ""
		d.TimeSlotID = ""
	}
	d.UpdatedAt = now
}
