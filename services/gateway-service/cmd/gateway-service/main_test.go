package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/roamly/roamly/libs/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func signedToken(t *testing.T, secret string, claims auth.Claims) string {
	t.Helper()
	token, err := auth.SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	return token
}

func TestRequireRole(t *testing.T) {
	h := requireRole(okHandler(), "vendor", "admin")

	cases := []struct {
		role string
		want int
	}{
		{"vendor", http.StatusOK},
		{"admin", http.StatusOK},
		{"traveler", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		req.Header.Set("X-Role", tc.role)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if rw.Code != tc.want {
			t.Errorf("role %q: got %d, want %d", tc.role, rw.Code, tc.want)
		}
	}
}

func TestRequireAuthHS256(t *testing.T) {
	secret := "test-secret"
	claims := auth.Claims{
		Sub:      "user-1",
		VendorID: "vendor-1",
		Role:     "vendor",
		Iat:      time.Now().Unix(),
		Exp:      time.Now().Add(time.Hour).Unix(),
	}
	token := signedToken(t, secret, claims)

	var seen http.Header
	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}), secret, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if seen.Get("X-User-Id") != claims.Sub || seen.Get("X-Vendor-Id") != claims.VendorID || seen.Get("X-Role") != claims.Role {
		t.Fatalf("identity headers not injected: %v", seen)
	}

	for _, header := range []string{"", "Bearer ", "Bearer badtoken", "Basic abc"} {
		reqBad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		if header != "" {
			reqBad.Header.Set("Authorization", header)
		}
		rwBad := httptest.NewRecorder()
		h.ServeHTTP(rwBad, reqBad)
		if rwBad.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, rwBad.Code)
		}
	}
}

func TestRequireAuthStripsSpoofedHeaders(t *testing.T) {
	secret := "test-secret"
	token := signedToken(t, secret, auth.Claims{
		Sub:      "user-2",
		VendorID: "vendor-2",
		Role:     "vendor",
		Iat:      time.Now().Unix(),
		Exp:      time.Now().Add(time.Hour).Unix(),
	})

	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vendor-Id") != "vendor-2" || r.Header.Get("X-Role") != "vendor" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), secret, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Vendor-Id", "vendor-spoofed")
	req.Header.Set("X-Role", "admin")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected spoofed headers replaced, got %d", rw.Code)
	}
}
