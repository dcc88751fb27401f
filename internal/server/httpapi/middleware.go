package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/server/auth"
)

type contextKey string

const userIDKey contextKey = "userID"

// userID extracts the authenticated user id set by BearerAuth.
func userID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(userIDKey).(int64)
	return id, ok
}

// BearerAuth verifies the Authorization header and stashes the user id in
// the request context. Requests without a valid token never reach the
// wrapped handler.
func BearerAuth(secretKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(common.AuthorizationHeaderName)
			if !strings.HasPrefix(header, common.BearerPrefix) {
				writeDetail(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			token := strings.TrimPrefix(header, common.BearerPrefix)
			id, err := auth.GetUserIDFromToken(token, secretKey)
			if err != nil {
				writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
