// Package auth issues and verifies the CSRF tokens required on every
// state-changing HTTP request.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrCSRFDisabled is returned when no signing secret is configured.
	ErrCSRFDisabled = errors.New("auth: csrf disabled")

	// ErrInvalidToken is returned for malformed, expired, or mis-scoped tokens.
	ErrInvalidToken = errors.New("auth: invalid csrf token")
)

// DefaultTokenTTL bounds how long a minted CSRF token stays valid.
const DefaultTokenTTL = 12 * time.Hour

// CSRFService mints and verifies per-client CSRF tokens. Tokens are HMAC
// signed and scoped to the client identity that requested them, so a token
// leaked from one client is useless for another.
type CSRFService struct {
	secret []byte
	ttl    time.Duration
}

// NewCSRFService builds a CSRF helper with the given secret.
func NewCSRFService(secret string, ttl time.Duration) *CSRFService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &CSRFService{secret: []byte(strings.TrimSpace(secret)), ttl: ttl}
}

// Enabled reports whether CSRF checks should run.
func (s *CSRFService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

type csrfClaims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// Mint issues a token bound to the client identity.
func (s *CSRFService) Mint(client string) (string, error) {
	if !s.Enabled() {
		return "", ErrCSRFDisabled
	}
	if strings.TrimSpace(client) == "" {
		return "", errors.New("auth: client identity required")
	}

	now := time.Now()
	claims := csrfClaims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks a token and its client binding.
func (s *CSRFService) Verify(token, client string) error {
	if !s.Enabled() {
		return ErrCSRFDisabled
	}
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &csrfClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*csrfClaims)
	if !ok || !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.Client != client {
		return ErrInvalidToken
	}
	return nil
}
