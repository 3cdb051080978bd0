package coordinator

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource signs HS256 bearer tokens with sub = device id and caches them
// until shortly before expiry. Safe for concurrent use.
type TokenSource struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewTokenSource(secret, deviceID string, ttl time.Duration) (*TokenSource, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenSource{secret: []byte(secret), subject: deviceID, ttl: ttl, now: time.Now}, nil
}

func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && s.expiry.Sub(now) > s.ttl/10 {
		return s.token, nil
	}
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   s.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.token, s.expiry = tok, exp
	return tok, nil
}
