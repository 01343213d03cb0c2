package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// ErrInvalidToken is returned by Decode for any credential that does not verify
var ErrInvalidToken = errors.New("invalid session token")

type claims struct {
	Token string `json:"token"`
	jwt.RegisteredClaims
}

// Codec turns a session's lookup token into a signed bearer credential.
// Only the token is embedded; the numeric id never leaves the server.
type Codec struct {
	secret []byte
	parser *jwt.Parser
}

// NewCodec creates an HS256 codec
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: session secret is empty", auth.ErrConfiguration)
	}
	return &Codec{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Encode signs the session token
func (c *Codec) Encode(s *Session) (string, error) {
	if s == nil || s.Token == "" {
		return "", fmt.Errorf("%w: session has no token", auth.ErrValidation)
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Token: s.Token,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Decode verifies encoded and returns the embedded token. It fails closed:
// a bad signature, another algorithm, a malformed credential or a missing
// claim all yield ErrInvalidToken.
func (c *Codec) Decode(encoded string) (string, error) {
	var cl claims
	_, err := c.parser.ParseWithClaims(encoded, &cl, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if cl.Token == "" {
		return "", fmt.Errorf("%w: missing token claim", ErrInvalidToken)
	}
	return cl.Token, nil
}
