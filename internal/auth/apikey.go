// Package auth provides authentication middleware for the HTTP transport.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// APIKeyHeader carries the caller's API key. This middleware only
	// identifies the caller from it; deciding whether that key may act
	// on the requested dataset is an external collaborator's concern,
	// not this module's (authorization is out of scope here).
	APIKeyHeader = "X-Api-Key"

	// DatasetHeader names the dataset a request targets.
	DatasetHeader = "TR-Dataset"

	callerContextKey contextKey = "caller"
)

// Caller holds the identity extracted from a request's auth headers.
type Caller struct {
	APIKey string
	UserID string
}

// RequireCaller is chi middleware extracting the caller's API key (and, if
// a bearer JWT is also present, its subject as UserID) into the request
// context. It rejects requests with no API key at all; it does not
// consult any tenant store, since authorization is out of scope here.
func RequireCaller(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if apiKey == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}

			caller := Caller{APIKey: apiKey}
			if jwtManager != nil {
				if bearer := bearerToken(r); bearer != "" {
					if claims, err := jwtManager.ValidateToken(bearer); err == nil {
						caller.UserID = claims.Subject
					}
				}
			}

			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// CallerFromContext extracts the caller identity stored by RequireCaller.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(Caller)
	return caller, ok
}
