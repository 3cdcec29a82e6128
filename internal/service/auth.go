package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/karthikpasupathy/yearview/internal/errs"
)

// DefaultTokenTTL is used when NewTokenService gets a non-positive ttl.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Token is a signed access token and its expiry.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// TokenService issues and verifies the bearer tokens that name the current
// user. Account management lives outside this service; the subject is an
// opaque user uuid.
type TokenService interface {
	// Issue signs a token for userID, which must be a uuid.
	Issue(userID string) (Token, error)
	// Verify checks signature and lifetime and returns the subject.
	Verify(token string) (userID string, err error)
}

type TokenServiceImpl struct {
	base
	signKey []byte
	ttl     time.Duration
	leeway  time.Duration
}

// NewTokenService constructs TokenService for HS256 tokens.
func NewTokenService(signKey []byte, ttl time.Duration, opts ...Option) *TokenServiceImpl {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenServiceImpl{base: newBase(opts), signKey: signKey, ttl: ttl, leeway: 30 * time.Second}
}

// Issue implements TokenService.
func (s *TokenServiceImpl) Issue(userID string) (Token, error) {
	id, err := uuid.FromString(userID)
	if err != nil || id == uuid.Nil {
		return Token{}, fmt.Errorf("%w: user id %q is not a uuid", errs.ErrValidation, userID)
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresAt: exp}, nil
}

// Verify implements TokenService.
func (s *TokenServiceImpl) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrNotAuthenticated, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return "", fmt.Errorf("%w: bad subject", errs.ErrNotAuthenticated)
	}
	return id.String(), nil
}
