package auth

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	DefaultExpiry = 24 * time.Hour
	issuer        = "peoplewatch"
)

// Claims identifies the operator a token was issued to
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 tokens issued by peoplewatch
type JWTManager struct {
	key       []byte
	lifetime  time.Duration
	ephemeral bool
	parser    *jwt.Parser
	now       func() time.Time
}

// NewJWTManager creates a token manager. With an empty secret a random key
// is drawn, and its tokens die with the process.
func NewJWTManager(secret string, expiry time.Duration) *JWTManager {
	m := &JWTManager{
		key:      []byte(secret),
		lifetime: expiry,
		now:      time.Now,
	}
	if len(m.key) == 0 {
		m.key = make([]byte, 32)
		rand.Read(m.key)
		m.ephemeral = true
	}
	if m.lifetime <= 0 {
		m.lifetime = DefaultExpiry
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m
}

// GenerateToken signs a token for username and returns it with its expiry
func (m *JWTManager) GenerateToken(username string) (string, time.Time, error) {
	issued := m.now()
	expires := issued.Add(m.lifetime)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ValidateToken checks signature, issuer and expiry. Every failure maps to
// ErrInvalidToken except expiry, which is ErrExpiredToken.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Expiry returns the token lifetime
func (m *JWTManager) Expiry() time.Duration {
	return m.lifetime
}

// Ephemeral reports whether the signing key was generated at startup
func (m *JWTManager) Ephemeral() bool {
	return m.ephemeral
}
