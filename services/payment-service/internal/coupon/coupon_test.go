package coupon

import (
	"errors"
	"testing"
	"time"
)

func TestValidate_ActivePercentCoupon(t *testing.T) {
	c := Coupon{Code: "SUMMER10", PercentOff: 10, Active: true}
	if err := c.Validate(5000, "usd", time.Now()); err != nil {
		t.Fatalf("expected valid coupon, got %v", err)
	}
}

func TestValidate_Inactive(t *testing.T) {
	c := Coupon{Code: "OLD", PercentOff: 10, Active: false}
	if err := c.Validate(5000, "usd", time.Now()); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}

func TestValidate_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	c := Coupon{Code: "LATE", PercentOff: 10, Active: true, ExpiresAt: &past}
	if err := c.Validate(5000, "usd", time.Now()); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestValidate_Exhausted(t *testing.T) {
	c := Coupon{Code: "FIRST100", PercentOff: 10, Active: true, MaxRedemptions: 100, RedeemedCount: 100}
	if err := c.Validate(5000, "usd", time.Now()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestValidate_UnlimitedRedemptions(t *testing.T) {
	c := Coupon{Code: "EVERGREEN", PercentOff: 5, Active: true, MaxRedemptions: 0, RedeemedCount: 100000}
	if err := c.Validate(5000, "usd", time.Now()); err != nil {
		t.Fatalf("zero max_redemptions should mean unlimited, got %v", err)
	}
}

func TestValidate_BelowMinimum(t *testing.T) {
	c := Coupon{Code: "BIGSPEND", AmountOffCents: 1000, Currency: "usd", MinAmountCents: 10000, Active: true}
	if err := c.Validate(5000, "usd", time.Now()); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestValidate_CurrencyMismatch(t *testing.T) {
	c := Coupon{Code: "EUROS", AmountOffCents: 500, Currency: "eur", Active: true}
	if err := c.Validate(5000, "usd", time.Now()); !errors.Is(err, ErrCurrencyMixup) {
		t.Fatalf("expected ErrCurrencyMixup, got %v", err)
	}
	// Percent coupons are currency-agnostic.
	p := Coupon{Code: "ANY10", PercentOff: 10, Currency: "eur", Active: true}
	if err := p.Validate(5000, "usd", time.Now()); err != nil {
		t.Fatalf("percent coupon should ignore currency, got %v", err)
	}
}

func TestDiscount(t *testing.T) {
	cases := []struct {
		name   string
		c      Coupon
		amount int64
		want   int64
	}{
		{"percent rounds down", Coupon{PercentOff: 10}, 1999, 199},
		{"fixed amount", Coupon{AmountOffCents: 500}, 5000, 500},
		{"fixed clamps to total", Coupon{AmountOffCents: 9000}, 5000, 5000},
		{"full discount", Coupon{PercentOff: 100}, 5000, 5000},
	}
	for _, tc := range cases {
		if got := tc.c.Discount(tc.amount); got != tc.want {
			t.Errorf("%s: Discount(%d) = %d, want %d", tc.name, tc.amount, got, tc.want)
		}
	}
}
