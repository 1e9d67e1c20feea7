package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type userIDCtxKey struct{}

// SetUserIDToContext stores the authenticated user id in the context.
// Authentication itself happens upstream; this module only consumes the
// identity it established.
func SetUserIDToContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user id, if present.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDCtxKey{}).(uuid.UUID)
	return userID, ok
}

// TrustedHeaderAuth injects the user id from the X-User-ID header set by
// the authenticating proxy in front of this service. Requests without a
// parseable id pass through unauthenticated and fail at the handler with
// 401.
func TrustedHeaderAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("X-User-ID"); raw != "" {
			if userID, err := uuid.Parse(raw); err == nil {
				r = r.WithContext(SetUserIDToContext(r.Context(), userID))
			}
		}
		next.ServeHTTP(w, r)
	})
}
