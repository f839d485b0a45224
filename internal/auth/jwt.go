// Package auth issues and validates the JWT bearer tokens that identify
// users on every API call and WebSocket connection.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aura-dev/aura/pkg/models"
)

// tokenIssuer marks tokens minted by this service. Validate rejects
// tokens carrying any other issuer.
const tokenIssuer = "aura"

var (
	// ErrInvalidToken is returned for expired, malformed or forged tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingCredentials is returned when a request carries no token.
	ErrMissingCredentials = errors.New("missing credentials")
)

// JWTService mints and verifies HS256 bearer tokens.
type JWTService struct {
	secret []byte
	expiry time.Duration
	parser *jwt.Parser
}

// NewJWTService builds a token service around a shared HMAC secret. An
// expiry of zero or less mints non-expiring tokens.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		expiry: expiry,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
		),
	}
}

// Claims is the token payload. The user id travels in the subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for the given user.
func (s *JWTService) Generate(user *models.User) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	claims := Claims{
		Email: strings.TrimSpace(user.Email),
		Name:  strings.TrimSpace(user.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  user.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate checks a bearer token and returns the user it names.
func (s *JWTService) Validate(token string) (*models.User, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if _, err := s.parser.ParseWithClaims(token, &claims, s.keyFunc); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &models.User{
		ID:    claims.Subject,
		Email: strings.TrimSpace(claims.Email),
		Name:  strings.TrimSpace(claims.Name),
	}, nil
}

// The signing-method check lives on the parser, so the key func only
// hands back the secret.
func (s *JWTService) keyFunc(*jwt.Token) (any, error) {
	return s.secret, nil
}
