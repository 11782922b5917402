package token

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager("test-secret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	signed, expiresAt, err := m.Issue("adm-42", "ops@rideops.example", 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}
	claims, err := m.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "adm-42" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if claims.Email != "ops@rideops.example" {
		t.Fatalf("unexpected email %q", claims.Email)
	}
	if claims.ID == "" {
		t.Fatal("jti missing")
	}
}

func TestVerifyExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m, err := NewManager("test-secret", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	signed, _, err := m.Issue("adm-42", "ops@rideops.example", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := m.Verify(signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a, _ := NewManager("secret-a")
	b, _ := NewManager("secret-b")
	signed, _, err := a.Issue("adm-42", "ops@rideops.example", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(signed); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestVerifyRejectsIssuerMismatch(t *testing.T) {
	a, _ := NewManager("shared", WithIssuer("issuer-a"))
	b, _ := NewManager("shared", WithIssuer("issuer-b"))
	signed, _, err := a.Issue("adm-42", "ops@rideops.example", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(signed); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	m, _ := NewManager("test-secret")
	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := m.Verify(raw); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Verify(%q): want ErrInvalid, got %v", raw, err)
		}
	}
}
