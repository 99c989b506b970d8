// Package middleware provides HTTP middleware for the node's public API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/meowith/meowith/pkg/api/auth"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// ClaimsFromContext retrieves the verified app-token claims from the
// request context. Returns the zero Claims and false if AppTokenAuth
// never ran for this request.
func ClaimsFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(auth.Claims)
	return claims, ok
}

func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// AppTokenAuth validates the bearer app token on every request behind it,
// storing the resulting Claims in the request context for handlers to
// resolve a per-bucket permission.Allowance from.
func AppTokenAuth(verifier auth.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				http.Error(w, "authorization header required", http.StatusUnauthorized)
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
