package storage

import (
	"context"

	"github.com/roamly/roamly/libs/db"
	"github.com/roamly/roamly/services/booking-service/internal/model"
)

// SlotRepository reads the slot and experience catalog tables that
// catalog-service owns. Booking-service only ever reads them.
type SlotRepository struct {
	pool *db.Pool
}

func NewSlotRepository(pool *db.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

func (r *SlotRepository) GetExperience(ctx context.Context, experienceID string) (model.Experience, error) {
	var exp model.Experience
	err := r.pool.QueryRow(ctx, `
		SELECT id, vendor_id, title, timezone, price_cents, currency
		FROM experiences
		WHERE id = $1
	`, experienceID).Scan(
		&exp.ID,
		&exp.VendorID,
		&exp.Title,
		&exp.Timezone,
		&exp.PriceCents,
		&exp.Currency,
	)
	if err != nil {
		return model.Experience{}, err
	}
	return exp, nil
}

func (r *SlotRepository) GetSlot(ctx context.Context, experienceID, slotID string) (model.TimeSlot, error) {
	var slot model.TimeSlot
	err := r.pool.QueryRow(ctx, `
		SELECT id, experience_id, COALESCE(activity_id::text, ''), start_minute, end_minute, capacity
		FROM time_slots
		WHERE id = $1 AND experience_id = $2
	`, slotID, experienceID).Scan(
		&slot.ID,
		&slot.ExperienceID,
		&slot.ActivityID,
		&slot.StartMinute,
		&slot.EndMinute,
		&slot.Capacity,
	)
	if err != nil {
		return model.TimeSlot{}, err
	}
	return slot, nil
}

// ListSlots returns an experience's slots in start-time order. activityID
// narrows the list when non-empty; slots with no activity are shared and
// always included.
func (r *SlotRepository) ListSlots(ctx context.Context, experienceID, activityID string) ([]model.TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, experience_id, COALESCE(activity_id::text, ''), start_minute, end_minute, capacity
		FROM time_slots
		WHERE experience_id = $1
			AND ($2 = '' OR activity_id IS NULL OR activity_id::text = $2)
		ORDER BY start_minute ASC, id ASC
	`, experienceID, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.TimeSlot
	for rows.Next() {
		var slot model.TimeSlot
		if err := rows.Scan(
			&slot.ID,
			&slot.ExperienceID,
			&slot.ActivityID,
			&slot.StartMinute,
			&slot.EndMinute,
			&slot.Capacity,
		); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}
