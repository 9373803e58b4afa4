package account

import (
	"strings"
	"testing"
	"time"
)

func TestNewSessionManagerRejectsShortSecret(t *testing.T) {
	_, err := NewSessionManager("too-short", time.Hour)
	if err == nil {
		t.Fatal("expected error for secret shorter than 32 bytes")
	}
}

func TestIssueAndValidateTokenRoundTrip(t *testing.T) {
	sm, err := NewSessionManager(GenerateDevSecret(), time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}

	claims := SessionClaims{
		AccountID:   "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		Email:       "a@example.com",
		DisplayName: "A",
		Method:      MethodSession,
	}

	token, err := sm.IssueToken(claims)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	got, err := sm.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if *got != claims {
		t.Errorf("claims = %+v, want %+v", *got, claims)
	}
}

func TestValidateTokenRejectsWrongSigningKey(t *testing.T) {
	sm1, _ := NewSessionManager(GenerateDevSecret(), time.Hour)
	sm2, _ := NewSessionManager(GenerateDevSecret(), time.Hour)

	token, err := sm1.IssueToken(SessionClaims{AccountID: "x", Method: MethodSession})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := sm2.ValidateToken(token); err == nil {
		t.Fatal("expected error validating token signed with a different key")
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	sm, _ := NewSessionManager(GenerateDevSecret(), -time.Hour)

	token, err := sm.IssueToken(SessionClaims{AccountID: "x", Method: MethodSession})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := sm.ValidateToken(token); err == nil {
		t.Fatal("expected error validating an already-expired token")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	sm, _ := NewSessionManager(GenerateDevSecret(), time.Hour)

	if _, err := sm.ValidateToken("not.a.jwt"); err == nil {
		t.Fatal("expected error validating malformed token")
	}
}

func TestGenerateDevSecretIsHexAndLongEnough(t *testing.T) {
	secret := GenerateDevSecret()
	if len(secret) < 32 {
		t.Fatalf("dev secret length = %d, want >= 32", len(secret))
	}
	if strings.ContainsAny(secret, "ghijklmnopqrstuvwxyzGHIJKLMNOPQRSTUVWXYZ") {
		t.Errorf("dev secret %q contains non-hex characters", secret)
	}
}
