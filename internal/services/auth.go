package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/slidesmith/deckgen-backend/internal/platform/apierr"
	"github.com/slidesmith/deckgen-backend/internal/requestdata"
)

type TokenService interface {
	Issue(userID uuid.UUID, email string, ttl time.Duration) (string, error)
	// Parse verifies signature and expiry and returns the embedded identity.
	Parse(token string) (*requestdata.RequestData, error)
}

type tokenService struct {
	secret []byte
}

func NewTokenService(secret string) (TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("missing JWT secret")
	}
	return &tokenService{secret: []byte(secret)}, nil
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (s *tokenService) Issue(userID uuid.UUID, email string, ttl time.Duration) (string, error) {
	if userID == uuid.Nil {
		return "", fmt.Errorf("missing user id: %w", apierr.ErrInvalidArgument)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(s.secret)
}

func (s *tokenService) Parse(token string) (*requestdata.RequestData, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apierr.ErrUnauthorized
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", apierr.ErrUnauthorized)
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, fmt.Errorf("invalid subject: %w", apierr.ErrUnauthorized)
	}
	return &requestdata.RequestData{
		UserID: userID,
		Email:  c.Email,
	}, nil
}
