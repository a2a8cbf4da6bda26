package storage

import (
	"context"
	"encoding/json"

	"github.com/roamly/roamly/libs/db"
)

type Notification struct {
	BookingID string
	VendorID  string
	Kind      string
	Channel   string
	Recipient string
	Payload   map[string]any
	Status    string
}

// Contact remembers how to reach the traveler for a booking. Lifecycle events
// after booking.created.v1 do not carry the email, so we keep our own copy.
type Contact struct {
	BookingID    string
	ExperienceID string
	VendorID     string
	Email        string
	BookingDate  string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (booking_id, vendor_id, kind, channel, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.BookingID, n.VendorID, n.Kind, n.Channel, n.Recipient, payload, n.Status)
	return err
}

func (r *Repository) UpsertContact(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_contacts (booking_id, experience_id, vendor_id, email, booking_date)
		VALUES ($1, $2, $3, $4, $5::date)
		ON CONFLICT (booking_id) DO UPDATE SET email = EXCLUDED.email
	`, c.BookingID, c.ExperienceID, c.VendorID, c.Email, c.BookingDate)
	return err
}

func (r *Repository) GetContact(ctx context.Context, bookingID string) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT booking_id, experience_id, vendor_id, email, to_char(booking_date, 'YYYY-MM-DD')
		  FROM booking_contacts
		 WHERE booking_id = $1
	`, bookingID).Scan(&c.BookingID, &c.ExperienceID, &c.VendorID, &c.Email, &c.BookingDate)
	return c, err
}
