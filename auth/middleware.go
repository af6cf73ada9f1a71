package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	memberIDKey contextKey = "member_id"
	roleKey     contextKey = "role"
)

// MemberID extracts the authenticated member ID from the context.
// Returns empty string if not found.
func MemberID(ctx context.Context) string {
	id, _ := ctx.Value(memberIDKey).(string)
	return id
}

// MemberRole extracts the authenticated member's role from the context.
func MemberRole(ctx context.Context) Role {
	role, _ := ctx.Value(roleKey).(Role)
	return role
}

// Middleware validates the Bearer token and stores the member identity on
// the request context. Requests without a valid token get 401.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}

			memberID, role, err := svc.VerifyToken(parts[1])
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), memberIDKey, memberID)
			ctx = context.WithValue(ctx, roleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
