package server

import (
	"net/http"

	"github.com/trieve/retrieval-core/internal/auth"
)

// callerFromRequest returns the caller's user id (JWT subject, if any)
// attached by auth.RequireCaller, for propagation into analytics events.
func callerFromRequest(r *http.Request) (string, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok || caller.UserID == "" {
		return "", false
	}
	return caller.UserID, true
}
