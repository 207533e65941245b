package handlers

import (
	"net/http"
	"strings"

	"github.com/webber-shop/api/internal/platform/httpx"
	"github.com/webber-shop/api/internal/platform/requestctx"
)

// userIDHeader carries the authenticated subject resolved by the edge proxy.
// The API trusts it the same way the upstream gateway terminates auth.
const userIDHeader = "X-User-ID"

// RequireUser rejects requests without an authenticated subject and stores the
// user id on the request context for downstream handlers.
func RequireUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(userIDHeader))
			if userID == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithUser(r.Context(), userID)))
		})
	}
}

func currentUserID(r *http.Request) string {
	return strings.TrimSpace(requestctx.UserID(r.Context()))
}
