package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/roamly/roamly/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type VendorProfile struct {
	VendorID string
	Name     string
	Timezone string
	Currency string
}

func (r *Repository) GetOrCreateVendor(ctx context.Context, vendorID string) (VendorProfile, error) {
	// Create a default profile if missing (keeps dev UX smooth while other services mature).
	_, err := r.pool.Exec(ctx, `
		INSERT INTO vendor_profiles (vendor_id)
		VALUES ($1)
		ON CONFLICT (vendor_id) DO NOTHING
	`, vendorID)
	if err != nil {
		return VendorProfile{}, err
	}

	var p VendorProfile
	err = r.pool.QueryRow(ctx, `
		SELECT vendor_id::text, name, timezone, currency
		FROM vendor_profiles
		WHERE vendor_id = $1
	`, vendorID).Scan(&p.VendorID, &p.Name, &p.Timezone, &p.Currency)
	return p, err
}

func (r *Repository) UpdateVendor(ctx context.Context, vendorID, name, timezone, currency string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO vendor_profiles (vendor_id, name, timezone, currency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vendor_id) DO UPDATE
		SET name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			currency = EXCLUDED.currency,
			updated_at = now()
	`, vendorID, name, timezone, currency)
	return err
}

type Experience struct {
	ID          string
	VendorID    string
	Title       string
	Description string
	Timezone    string
	PriceCents  int64
	Currency    string
	IsPublished bool
	CreatedAt   time.Time
}

func (r *Repository) CreateExperience(ctx context.Context, exp Experience) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO experiences (id, vendor_id, title, description, timezone, price_cents, currency, is_published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, exp.VendorID, exp.Title, exp.Description, exp.Timezone, exp.PriceCents, exp.Currency, exp.IsPublished)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) GetExperience(ctx context.Context, experienceID string) (Experience, error) {
	var exp Experience
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, vendor_id::text, title, description, timezone, price_cents, currency, is_published, created_at
		FROM experiences
		WHERE id = $1
	`, experienceID).Scan(&exp.ID, &exp.VendorID, &exp.Title, &exp.Description, &exp.Timezone,
		&exp.PriceCents, &exp.Currency, &exp.IsPublished, &exp.CreatedAt)
	return exp, err
}

func (r *Repository) ListExperiences(ctx context.Context, vendorID string, limit int) ([]Experience, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, vendor_id::text, title, description, timezone, price_cents, currency, is_published, created_at
		FROM experiences
		WHERE vendor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, vendorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExperiences(rows)
}

func (r *Repository) ListPublishedExperiences(ctx context.Context, limit int) ([]Experience, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, vendor_id::text, title, description, timezone, price_cents, currency, is_published, created_at
		FROM experiences
		WHERE is_published
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExperiences(rows)
}

func (r *Repository) SetExperiencePublished(ctx context.Context, vendorID, experienceID string, published bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE experiences
		SET is_published = $3,
			updated_at = now()
		WHERE id = $2 AND vendor_id = $1
	`, vendorID, experienceID, published)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type Activity struct {
	ID           string
	ExperienceID string
	Name         string
	Description  string
	CreatedAt    time.Time
}

func (r *Repository) CreateActivity(ctx context.Context, vendorID, experienceID, name, description string) (string, error) {
	if err := r.assertExperienceOwned(ctx, vendorID, experienceID); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO activities (id, experience_id, name, description)
		VALUES ($1, $2, $3, $4)
	`, id, experienceID, name, description)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListActivities(ctx context.Context, experienceID string) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, experience_id::text, name, description, created_at
		FROM activities
		WHERE experience_id = $1
		ORDER BY created_at ASC
	`, experienceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.ExperienceID, &a.Name, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type TimeSlot struct {
	ID           string
	ExperienceID string
	ActivityID   string
	StartMinute  int
	EndMinute    int
	Capacity     int
	CreatedAt    time.Time
}

func (r *Repository) CreateTimeSlot(ctx context.Context, vendorID string, slot TimeSlot) (string, error) {
	if err := r.assertExperienceOwned(ctx, vendorID, slot.ExperienceID); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO time_slots (id, experience_id, activity_id, start_minute, end_minute, capacity)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6)
	`, id, slot.ExperienceID, slot.ActivityID, slot.StartMinute, slot.EndMinute, slot.Capacity)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListTimeSlots(ctx context.Context, experienceID string) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, experience_id::text, COALESCE(activity_id::text, ''), start_minute, end_minute, capacity, created_at
		FROM time_slots
		WHERE experience_id = $1
		ORDER BY start_minute ASC, id ASC
	`, experienceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeSlot
	for rows.Next() {
		var s TimeSlot
		if err := rows.Scan(&s.ID, &s.ExperienceID, &s.ActivityID, &s.StartMinute, &s.EndMinute, &s.Capacity, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) UpdateSlotCapacity(ctx context.Context, vendorID, slotID string, capacity int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE time_slots s
		SET capacity = $3
		FROM experiences e
		WHERE s.experience_id = e.id
		  AND e.vendor_id = $1
		  AND s.id = $2
	`, vendorID, slotID, capacity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) DeleteTimeSlot(ctx context.Context, vendorID, slotID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM time_slots s
		USING experiences e
		WHERE s.experience_id = e.id
		  AND e.vendor_id = $1
		  AND s.id = $2
	`, vendorID, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) assertExperienceOwned(ctx context.Context, vendorID, experienceID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM experiences WHERE id = $1 AND vendor_id = $2
		)
	`, experienceID, vendorID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return pgx.ErrNoRows
	}
	return nil
}

func collectExperiences(rows pgx.Rows) ([]Experience, error) {
	var out []Experience
	for rows.Next() {
		var exp Experience
		if err := rows.Scan(&exp.ID, &exp.VendorID, &exp.Title, &exp.Description, &exp.Timezone,
			&exp.PriceCents, &exp.Currency, &exp.IsPublished, &exp.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
