package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// Alphanumeric is the alphabet used for session tokens and confirmation secrets
	Alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// SessionTokenLength is the length of a session token
	SessionTokenLength = 32

	// SecretLength is the length of an account confirmation secret
	SecretLength = 32
)

// RandomString returns a string of length n drawn uniformly from alphabet
// using crypto/rand.
func RandomString(n int, alphabet string) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("%w: random string length must be positive", ErrValidation)
	}
	if len(alphabet) < 2 {
		return "", fmt.Errorf("%w: alphabet needs at least two symbols", ErrValidation)
	}

	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}

	return string(out), nil
}

// TokenGenerator generates opaque session tokens and confirmation secrets
type TokenGenerator struct {
	alphabet string
}

// NewTokenGenerator creates a new token generator over the alphanumeric alphabet
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{alphabet: Alphanumeric}
}

// SessionToken creates a new session token
func (tg *TokenGenerator) SessionToken() (string, error) {
	return RandomString(SessionTokenLength, tg.alphabet)
}

// Secret creates a new account confirmation secret
func (tg *TokenGenerator) Secret() (string, error) {
	return RandomString(SecretLength, tg.alphabet)
}

// ValidateTokenFormat checks that a token has the expected length and alphabet
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if len(token) != SessionTokenLength {
		return fmt.Errorf("%w: token must be %d characters", ErrValidation, SessionTokenLength)
	}
	for i := 0; i < len(token); i++ {
		if !isAlphanumeric(token[i]) {
			return fmt.Errorf("%w: token contains invalid character", ErrValidation)
		}
	}
	return nil
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
