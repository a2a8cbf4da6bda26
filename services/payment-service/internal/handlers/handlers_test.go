package handlers

import (
	"testing"

	"github.com/stripe/stripe-go/v79"
)

func TestWithQueryParam(t *testing.T) {
	got := withQueryParam("https://app.example.com/checkout/done", "return_token", "abc123")
	want := "https://app.example.com/checkout/done?return_token=abc123"
	if got != want {
		t.Fatalf("withQueryParam = %q, want %q", got, want)
	}

	got = withQueryParam("https://app.example.com/done?foo=1", "return_token", "abc")
	if got != "https://app.example.com/done?foo=1&return_token=abc" {
		t.Fatalf("existing params should be preserved, got %q", got)
	}

	if got := withQueryParam("", "k", "v"); got != "" {
		t.Fatalf("empty URL should stay empty, got %q", got)
	}
	if got := withQueryParam("https://x", "k", ""); got != "https://x" {
		t.Fatalf("empty value should leave URL alone, got %q", got)
	}
}

func TestNewReturnToken(t *testing.T) {
	a := newReturnToken()
	b := newReturnToken()
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
	if a == b {
		t.Fatal("tokens must be unique")
	}
}

func TestBookingIDFromSession(t *testing.T) {
	sess := &stripe.CheckoutSession{ClientReferenceID: "bk-1"}
	if got := bookingIDFromSession(sess); got != "bk-1" {
		t.Fatalf("got %q", got)
	}
	sess = &stripe.CheckoutSession{Metadata: map[string]string{"booking_id": "bk-2"}}
	if got := bookingIDFromSession(sess); got != "bk-2" {
		t.Fatalf("metadata fallback got %q", got)
	}
	sess = &stripe.CheckoutSession{}
	if got := bookingIDFromSession(sess); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestParseAmountCents(t *testing.T) {
	if n, err := parseAmountCents("1999"); err != nil || n != 1999 {
		t.Fatalf("got %d, %v", n, err)
	}
	for _, raw := range []string{"", "-1", "abc", "1.5"} {
		if _, err := parseAmountCents(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
