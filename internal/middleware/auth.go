// Package middleware holds HTTP middleware shared by the API server.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"peoplewatch/internal/auth"
)

// ContextKey is the type of context keys set by this package
type ContextKey string

// UserContextKey holds the *auth.Claims of an authenticated request
const UserContextKey ContextKey = "user"

const (
	msgMissingToken = "missing or malformed authorization header"
	msgExpiredToken = "token has expired"
	msgInvalidToken = "invalid token"
)

// AuthMiddleware rejects requests without a valid bearer token. It is a
// no-op when authentication is disabled.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !authenticator.IsEnabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, msg := authenticate(authenticator, r)
			if claims == nil {
				unauthorized(w, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, claims)))
		})
	}
}

// authenticate returns the claims of the request token, or the reason it
// was refused
func authenticate(authenticator *auth.Authenticator, r *http.Request) (*auth.Claims, string) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, msgMissingToken
	}
	claims, err := authenticator.ValidateToken(token)
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return nil, msgExpiredToken
	case err != nil:
		return nil, msgInvalidToken
	}
	return claims, ""
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for clients that cannot set headers (WebSocket, <img>)
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		token := r.URL.Query().Get("token")
		return token, token != ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="peoplewatch"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// GetUserFromContext returns the claims stored by AuthMiddleware, or nil
func GetUserFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(UserContextKey).(*auth.Claims)
	return claims
}
