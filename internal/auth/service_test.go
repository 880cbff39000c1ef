package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}
	return NewService(map[string]string{"admin": hash}, jwtConfig)
}

func TestLogin_IssuesValidToken(t *testing.T) {
	svc := newTestAuthService(t)

	token, err := svc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("expected login success, got %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.Operator != "admin" {
		t.Errorf("operator = %q, want admin", claims.Operator)
	}
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	svc := newTestAuthService(t)

	if _, err := svc.Login("admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login("nobody", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken_RejectsForeignSignature(t *testing.T) {
	svc := newTestAuthService(t)

	other := &JWTConfig{
		Secret:   []byte("a-different-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
	token, err := GenerateToken(other, "admin")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatalf("expected validation failure for foreign signature")
	}
}
