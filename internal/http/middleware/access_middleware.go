package middleware

import (
	"net/http"

	"github.com/asklp/asklp/internal/http/response"
	"github.com/asklp/asklp/internal/observability"
)

func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
			return
		}
		if !user.IsAdmin {
			observability.Audit(r, "admin_access_denied", "user_id", user.ID)
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "administrator access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
