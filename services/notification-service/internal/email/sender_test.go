package email

import (
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("no-reply@roamly.local", "traveler@example.com", "Your booking is confirmed", "See you soon.")
	for _, want := range []string{
		"From: no-reply@roamly.local",
		"To: traveler@example.com",
		"Subject: Your booking is confirmed",
		"Content-Type: text/plain; charset=utf-8",
		"See you soon.",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
	if !strings.Contains(msg, "\r\n\r\n") {
		t.Error("message missing header/body separator")
	}
}

func TestNewSMTPSenderDefaults(t *testing.T) {
	s := NewSMTPSender(" mailpit ", " 1025 ", "")
	if s.addr != "mailpit:1025" {
		t.Fatalf("addr = %q", s.addr)
	}
	if s.from != "no-reply@roamly.local" {
		t.Fatalf("from = %q", s.from)
	}
}
