package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatorDisabled(t *testing.T) {
	a, err := NewAuthenticator(Config{})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())

	_, _, err = a.Authenticate("admin", "secret")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestAuthenticatorPlaintextPassword(t *testing.T) {
	a, err := NewAuthenticator(Config{Enabled: true, Password: "hunter2", JWTSecret: "s3cret"})
	require.NoError(t, err)

	token, expiresAt, err := a.Authenticate("admin", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(DefaultExpiry), expiresAt, time.Minute)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)

	_, _, err = a.Authenticate("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Authenticate("root", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticatorHashedPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, IsBcryptHash(hash))

	a, err := NewAuthenticator(Config{Enabled: true, Username: "ops", Password: hash})
	require.NoError(t, err)

	_, _, err = a.Authenticate("ops", "hunter2")
	assert.NoError(t, err)
}

func TestAuthenticatorWithoutPasswordRejectsLogins(t *testing.T) {
	a, err := NewAuthenticator(Config{Enabled: true})
	require.NoError(t, err)

	_, _, err = a.Authenticate("admin", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	assert.False(t, m.Ephemeral())
	assert.Equal(t, time.Hour, m.Expiry())

	token, _, err := m.GenerateToken("ops")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)

	other := NewJWTManager("another", time.Hour)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "ops"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManagerExpiredToken(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	issued := time.Now()
	m.now = func() time.Time { return issued }

	token, expiresAt, err := m.GenerateToken("ops")
	require.NoError(t, err)
	assert.Equal(t, issued.Add(time.Hour), expiresAt)

	_, err = m.ValidateToken(token)
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTManagerEphemeralSecret(t *testing.T) {
	a := NewJWTManager("", 0)
	b := NewJWTManager("", 0)
	assert.True(t, a.Ephemeral())
	assert.Equal(t, DefaultExpiry, a.Expiry())

	token, _, err := a.GenerateToken("ops")
	require.NoError(t, err)
	_, err = b.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIsBcryptHash(t *testing.T) {
	assert.False(t, IsBcryptHash("hunter2"))
	assert.False(t, IsBcryptHash("$"+string(make([]byte, 59))))
}
