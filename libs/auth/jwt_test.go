package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func vendorClaims(sub, vendor, role string) Claims {
	return Claims{
		Sub:      sub,
		VendorID: vendor,
		Role:     role,
		Iat:      time.Now().Unix(),
		Exp:      time.Now().Add(time.Hour).Unix(),
	}
}

func TestHS256RoundTrip(t *testing.T) {
	claims := vendorClaims("user-1", "vendor-1", "vendor")
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.VendorID != claims.VendorID || parsed.Role != claims.Role {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
}

func TestHS256Rejections(t *testing.T) {
	good, err := SignHS256(vendorClaims("user-1", "vendor-1", "vendor"), "secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	expired := vendorClaims("user-1", "", "vendor")
	expired.Iat = time.Now().Add(-2 * time.Hour).Unix()
	expired.Exp = time.Now().Add(-time.Hour).Unix()
	expiredToken, err := SignHS256(expired, "secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	cases := map[string]string{
		"wrong secret":      good,
		"expired":           expiredToken,
		"tampered payload":  tamper(good),
		"two segments only": "a.b",
		"garbage":           "not-a-token",
	}
	for name, token := range cases {
		secret := "secret"
		if name == "wrong secret" {
			secret = "other"
		}
		if _, err := ParseAndVerifyHS256(token, secret); err == nil {
			t.Errorf("%s: expected rejection", name)
		}
	}
}

// tamper flips the payload segment while keeping the original signature.
func tamper(token string) string {
	parts := strings.Split(token, ".")
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"intruder","role":"admin"}`))
	return parts[0] + "." + payload + "." + parts[2]
}

func TestRS256Verify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	claims := vendorClaims("user-2", "vendor-2", "admin")

	token, err := signRS256(claims, key, "kid-1")
	if err != nil {
		t.Fatalf("rs256 sign failed: %v", err)
	}
	parsed, err := VerifyRS256(token, &key.PublicKey)
	if err != nil {
		t.Fatalf("VerifyRS256 failed: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.VendorID != claims.VendorID || parsed.Role != claims.Role {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}

	header, err := ParseHeader(token)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if header.Alg != "RS256" || header.Kid != "kid-1" {
		t.Fatalf("header mismatch: %+v", header)
	}

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	if _, err := VerifyRS256(token, &otherKey.PublicKey); err == nil {
		t.Fatal("expected rejection with unrelated key")
	}
}

func signRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT", "kid": kid})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	digest := sha256.Sum256([]byte(unsigned))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
