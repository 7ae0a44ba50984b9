package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/repository"
	"github.com/asklp/asklp/internal/security"
	"github.com/asklp/asklp/internal/service"
)

type contextKey string

const (
	UserContextKey    contextKey = "user"
	SessionContextKey contextKey = "session"
)

type GateRoutes struct {
	Landing         string
	App             string
	ProtectedPrefix string
}

var DefaultGateRoutes = GateRoutes{Landing: "/", App: "/app", ProtectedPrefix: "/app"}

type gateAction int

const (
	gateContinue gateAction = iota
	gateAttach
	gateRedirectApp
	gateRedirectLanding
)

// decideGate is the single authorization checkpoint. It depends only on
// whether an identity was resolved and on the request path.
func decideGate(routes GateRoutes, authenticated bool, path string) gateAction {
	switch {
	case authenticated && path == routes.Landing:
		return gateRedirectApp
	case authenticated:
		return gateAttach
	case isProtected(routes.ProtectedPrefix, path):
		return gateRedirectLanding
	default:
		return gateContinue
	}
}

func isProtected(prefix, path string) bool {
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

// AuthGate resolves the session cookie into a user. Any resolution failure
// makes the request anonymous; it never produces an error response.
func AuthGate(resolver service.SessionResolver, routes GateRoutes, secureCookies bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, session := resolveIdentity(w, r, resolver, secureCookies)
			switch decideGate(routes, user != nil, r.URL.Path) {
			case gateRedirectApp:
				http.Redirect(w, r, routes.App, http.StatusTemporaryRedirect)
			case gateRedirectLanding:
				http.Redirect(w, r, routes.Landing, http.StatusTemporaryRedirect)
			case gateAttach:
				ctx := context.WithValue(r.Context(), UserContextKey, user)
				ctx = context.WithValue(ctx, SessionContextKey, session)
				next.ServeHTTP(w, r.WithContext(ctx))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func resolveIdentity(w http.ResponseWriter, r *http.Request, resolver service.SessionResolver, secureCookies bool) (*domain.User, *domain.Session) {
	sessionID := security.GetCookie(r, security.SessionCookieName)
	if sessionID == "" {
		return nil, nil
	}
	user, session, err := resolver.ResolveUser(r.Context(), sessionID)
	if err == nil {
		return user, session
	}
	switch {
	case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, repository.ErrUserNotFound):
		http.SetCookie(w, security.ClearSessionCookie(secureCookies))
	case errors.Is(err, context.Canceled):
	default:
		slog.WarnContext(r.Context(), "session resolution failed, continuing anonymously", "path", r.URL.Path, "error", err)
	}
	return nil, nil
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*domain.User)
	return u, ok && u != nil
}

func SessionFromContext(ctx context.Context) (*domain.Session, bool) {
	s, ok := ctx.Value(SessionContextKey).(*domain.Session)
	return s, ok && s != nil
}
