// Package coupon holds the pure discount arithmetic so it can be checked
// without a database or Stripe in the loop.
package coupon

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInactive       = errors.New("coupon is not active")
	ErrExpired        = errors.New("coupon has expired")
	ErrExhausted      = errors.New("coupon redemption limit reached")
	ErrBelowMinimum   = errors.New("order total below coupon minimum")
	ErrCurrencyMixup  = errors.New("coupon currency does not match order")
	ErrNothingToApply = errors.New("coupon has no discount value")
)

type Coupon struct {
	Code           string
	PercentOff     int
	AmountOffCents int64
	Currency       string
	MinAmountCents int64
	MaxRedemptions int
	RedeemedCount  int
	Active         bool
	ExpiresAt      *time.Time
}

// Validate reports whether the coupon may be applied to an order of the given
// amount and currency at time now. MaxRedemptions of zero means unlimited.
func (c Coupon) Validate(amountCents int64, currency string, now time.Time) error {
	if !c.Active {
		return ErrInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ErrExpired
	}
	if c.MaxRedemptions > 0 && c.RedeemedCount >= c.MaxRedemptions {
		return ErrExhausted
	}
	if c.PercentOff <= 0 && c.AmountOffCents <= 0 {
		return ErrNothingToApply
	}
	if c.AmountOffCents > 0 && !strings.EqualFold(c.Currency, currency) {
		return ErrCurrencyMixup
	}
	if amountCents < c.MinAmountCents {
		return ErrBelowMinimum
	}
	return nil
}

// Discount returns the discount in cents for the given order amount, clamped so
// the payable amount never goes negative. Percent discounts round down.
func (c Coupon) Discount(amountCents int64) int64 {
	var off int64
	if c.PercentOff > 0 {
		off = amountCents * int64(c.PercentOff) / 100
	} else {
		off = c.AmountOffCents
	}
	if off > amountCents {
		off = amountCents
	}
	if off < 0 {
		off = 0
	}
	return off
}
