package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/asklp/asklp/internal/http/response"
	"github.com/asklp/asklp/internal/observability"
	"github.com/asklp/asklp/internal/security"
	"github.com/asklp/asklp/internal/service"
)

type AuthHandler struct {
	authSvc       service.AuthServiceInterface
	secureCookies bool
	now           func() time.Time
}

func NewAuthHandler(authSvc service.AuthServiceInterface, secureCookies bool) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, secureCookies: secureCookies, now: time.Now}
}

// DiscordLogin pins a signed state to the browser and sends it to Discord.
func (h *AuthHandler) DiscordLogin(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.authSvc.LoginURL()
	if err != nil {
		slog.ErrorContext(r.Context(), "build login url failed", "error", err)
		response.Internal(w, r)
		return
	}
	http.SetCookie(w, security.StateCookie(state, h.authSvc.StateTTL(), h.secureCookies))
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) DiscordCallback(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, security.ClearStateCookie(h.secureCookies))
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		observability.Audit(r, "login_denied", "provider_error", providerErr)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := h.authSvc.VerifyState(security.GetCookie(r, security.StateCookieName), q.Get("state")); err != nil {
		observability.Audit(r, "login_state_rejected")
		response.Error(w, r, http.StatusBadRequest, "INVALID_OAUTH_STATE", "login request expired or was tampered with", nil)
		return
	}

	res, err := h.authSvc.CompleteLogin(r.Context(), q.Get("code"))
	if err != nil {
		slog.WarnContext(r.Context(), "discord login failed", "error", err)
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "discord login failed", nil)
		return
	}
	observability.Audit(r, "login", "user_id", res.User.ID, "created", res.Created)
	http.SetCookie(w, security.SessionCookie(res.Session.ID, res.Session.ExpiresAt, h.now(), h.secureCookies))
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := security.GetCookie(r, security.SessionCookieName)
	http.SetCookie(w, security.ClearSessionCookie(h.secureCookies))
	if sessionID != "" {
		if err := h.authSvc.Logout(r.Context(), sessionID); err != nil {
			slog.ErrorContext(r.Context(), "logout failed", "error", err)
			response.Internal(w, r)
			return
		}
		observability.Audit(r, "logout")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
