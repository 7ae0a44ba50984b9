package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidOAuthState = errors.New("invalid oauth state")

const stateTokenType = "oauth_state"

type StateClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// StateSigner mints and verifies the CSRF state carried through the OAuth
// authorization redirect. The same value is set as a cookie and compared on
// callback, so a state minted for one browser cannot complete a login in another.
type StateSigner struct {
	issuer string
	secret []byte
	now    func() time.Time
}

func NewStateSigner(issuer string, secret []byte) *StateSigner {
	return &StateSigner{issuer: issuer, secret: secret, now: time.Now}
}

func (s *StateSigner) Sign(ttl time.Duration) (string, error) {
	now := s.now()
	claims := StateClaims{
		TokenType: stateTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *StateSigner) Verify(raw string) (*StateClaims, error) {
	if raw == "" {
		return nil, ErrInvalidOAuthState
	}
	claims := &StateClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOAuthState, err)
	}
	if !tok.Valid || claims.TokenType != stateTokenType {
		return nil, ErrInvalidOAuthState
	}
	return claims, nil
}
