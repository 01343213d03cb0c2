package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestRandomString_LengthAndAlphabet(t *testing.T) {
	s, err := RandomString(64, "ab")
	if err != nil {
		t.Fatalf("RandomString() error = %v", err)
	}
	if len(s) != 64 {
		t.Errorf("len = %d, want 64", len(s))
	}
	if strings.Trim(s, "ab") != "" {
		t.Errorf("RandomString() = %q contains symbols outside the alphabet", s)
	}
}

func TestRandomString_InvalidInput(t *testing.T) {
	if _, err := RandomString(0, Alphanumeric); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for zero length, got %v", err)
	}
	if _, err := RandomString(8, "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for single-symbol alphabet, got %v", err)
	}
}

func TestTokenGenerator_SessionToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, err := tg.SessionToken()
	if err != nil {
		t.Fatalf("SessionToken() error = %v", err)
	}
	if err := tg.ValidateTokenFormat(token); err != nil {
		t.Errorf("generated token failed validation: %v", err)
	}
}

func TestTokenGenerator_Uniqueness(t *testing.T) {
	tg := NewTokenGenerator()

	tokens := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := tg.SessionToken()
		if err != nil {
			t.Fatalf("SessionToken() error = %v", err)
		}
		if tokens[token] {
			t.Errorf("Duplicate token generated: %s", token)
		}
		tokens[token] = true
	}
}

func TestTokenGenerator_Secret(t *testing.T) {
	secret, err := NewTokenGenerator().Secret()
	if err != nil {
		t.Fatalf("Secret() error = %v", err)
	}
	if len(secret) != SecretLength {
		t.Errorf("len = %d, want %d", len(secret), SecretLength)
	}
}

func TestTokenGenerator_ValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", strings.Repeat("aZ09", 8), false},
		{"too short", "abc", true},
		{"bad character", strings.Repeat("a", 31) + "-", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTokenFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
