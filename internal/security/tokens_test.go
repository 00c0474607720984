package security

import (
	"errors"
	"testing"
	"time"

	"device-lock-control-plane/internal/token"
)

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	access, exp, err := p.IssueAccess("owner-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if access == "" {
		t.Fatal("access token empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}
	ownerID, err := p.ValidateAccess(access)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if ownerID != "owner-1" {
		t.Errorf("ValidateAccess: got ownerID=%q", ownerID)
	}
}

func TestTokenProvider_ValidateAccessInvalid(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.ValidateAccess("invalid-token"); err != ErrInvalidToken {
		t.Errorf("ValidateAccess invalid token: want ErrInvalidToken, got %v", err)
	}
}

// pemKeyPair returns signing keys and verify-only keys for one fresh key pair.
func pemKeyPair(t *testing.T) (signing, verifying *token.Keys) {
	t.Helper()
	privPEM, pubPEM := mustKeyPEM(t)
	signing, err := TokenKeys("", privPEM, pubPEM)
	if err != nil {
		t.Fatalf("TokenKeys: %v", err)
	}
	verifying, err = TokenKeys("", "", pubPEM)
	if err != nil {
		t.Fatalf("TokenKeys verify-only: %v", err)
	}
	return signing, verifying
}

func TestTokenProvider_ValidateAccessWrongAudience(t *testing.T) {
	keys, _ := pemKeyPair(t)
	other := NewTokenProvider(keys, "test-issuer", "some-other-api", time.Minute)
	access, _, err := other.IssueAccess("owner-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	p := NewTokenProvider(keys, "test-issuer", "test-owner-api", time.Minute)
	if _, err := p.ValidateAccess(access); err != ErrInvalidToken {
		t.Errorf("ValidateAccess wrong audience: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ValidateAccessExpired(t *testing.T) {
	keys, _ := pemKeyPair(t)
	p := NewTokenProvider(keys, "test-issuer", "test-owner-api", -time.Minute)
	access, _, err := p.IssueAccess("owner-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateAccess(access); err != ErrInvalidToken {
		t.Errorf("ValidateAccess expired: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_VerifyOnly(t *testing.T) {
	signing, verifying := pemKeyPair(t)
	p := NewTokenProvider(verifying, "test-issuer", "test-owner-api", time.Minute)
	if _, _, err := p.IssueAccess("owner-1"); !errors.Is(err, token.ErrNoSigningKey) {
		t.Errorf("IssueAccess verify-only: want ErrNoSigningKey, got %v", err)
	}

	signer := NewTokenProvider(signing, "test-issuer", "test-owner-api", time.Minute)
	access, _, _ := signer.IssueAccess("owner-2")
	if ownerID, err := p.ValidateAccess(access); err != nil || ownerID != "owner-2" {
		t.Errorf("ValidateAccess verify-only: got %q, %v", ownerID, err)
	}
}

func TestTokenProvider_HMAC(t *testing.T) {
	keys, err := TokenKeys("0123456789abcdef0123456789abcdef", "", "")
	if err != nil {
		t.Fatalf("TokenKeys: %v", err)
	}
	if keys.Alg() != "HS256" {
		t.Errorf("Alg = %q, want HS256", keys.Alg())
	}
	p := NewTokenProvider(keys, "iss", "aud", time.Minute)
	access, _, err := p.IssueAccess("owner-3")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if ownerID, err := p.ValidateAccess(access); err != nil || ownerID != "owner-3" {
		t.Errorf("ValidateAccess: got %q, %v", ownerID, err)
	}
}
