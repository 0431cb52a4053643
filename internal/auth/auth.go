// Package auth guards the control API with a single operator account and
// HMAC-signed JWTs.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

const defaultUsername = "admin"

// Config describes the operator account and token settings
type Config struct {
	Enabled  bool
	Username string
	// Password is either plaintext or a bcrypt hash
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
}

// Authenticator checks the operator account and issues tokens for it
type Authenticator struct {
	enabled  bool
	operator string
	hash     []byte // nil when no password is configured
	tokens   *JWTManager
}

// NewAuthenticator creates an authenticator. An enabled authenticator
// without a password rejects every login but still validates tokens.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	a := &Authenticator{
		enabled:  cfg.Enabled,
		operator: cfg.Username,
		tokens:   NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry),
	}
	if a.operator == "" {
		a.operator = defaultUsername
	}

	if !cfg.Enabled || cfg.Password == "" {
		return a, nil
	}
	if IsBcryptHash(cfg.Password) {
		a.hash = []byte(cfg.Password)
		return a, nil
	}
	hash, err := HashPassword(cfg.Password)
	if err != nil {
		return nil, err
	}
	a.hash = []byte(hash)
	return a, nil
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate checks the operator credentials and returns a token with its expiry
func (a *Authenticator) Authenticate(username, password string) (string, time.Time, error) {
	if !a.enabled {
		return "", time.Time{}, ErrAuthDisabled
	}
	if a.hash == nil || subtle.ConstantTimeCompare([]byte(username), []byte(a.operator)) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(password)) != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.tokens.GenerateToken(a.operator)
}

// ValidateToken returns the claims of a token issued by this authenticator
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.ValidateToken(token)
}

// JWTManager returns the token manager
func (a *Authenticator) JWTManager() *JWTManager {
	return a.tokens
}

// HashPassword returns the bcrypt hash of password at the default cost
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IsBcryptHash reports whether s looks like a bcrypt hash
func IsBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
