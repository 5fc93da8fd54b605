package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/weiawesome/sticker-chat/internal/domain"
)

func TestSignAndValidate(t *testing.T) {
	m := NewManager("secret", "test")

	token, err := m.Sign(Context{UserID: "u1", DisplayName: "User One", Role: domain.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != "u1" || claims.DisplayName != "User One" || claims.Role != domain.RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	m := NewManager("secret", "test")
	token, err := m.Sign(Context{UserID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := m.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("error = %v, want ErrExpiredToken", err)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	signer := NewManager("secret-a", "test")
	verifier := NewManager("secret-b", "test")

	token, err := signer.Sign(Context{UserID: "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Error("token with wrong signature accepted")
	}
}

func TestValidateGarbage(t *testing.T) {
	m := NewManager("secret", "test")
	if _, err := m.ValidateToken("not-a-token"); err == nil {
		t.Error("garbage token accepted")
	}
}
