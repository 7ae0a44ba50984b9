package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/asklp/asklp/internal/health"
	"github.com/asklp/asklp/internal/http/handler"
	"github.com/asklp/asklp/internal/http/middleware"
	"github.com/asklp/asklp/internal/http/response"
	"github.com/asklp/asklp/internal/service"
)

const maxBodyBytes = 1 << 20

type Dependencies struct {
	AuthHandler     *handler.AuthHandler
	AppHandler      *handler.AppHandler
	QuestionHandler *handler.QuestionHandler
	SessionResolver service.SessionResolver
	RateLimiter     func(http.Handler) http.Handler
	GateRoutes      middleware.GateRoutes
	SecureCookies   bool
	Readiness       *health.ProbeRunner
	EnableOTelHTTP  bool
}

// NewRouter applies the per-client rate limit before anything else touches the
// session, then lets the auth gate decide redirects for every route it serves.
// Health probes sit outside both so orchestration traffic is never throttled.
func NewRouter(dep Dependencies) http.Handler {
	routes := dep.GateRoutes
	if routes == (middleware.GateRoutes{}) {
		routes = middleware.DefaultGateRoutes
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(maxBodyBytes))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Group(func(r chi.Router) {
		if dep.RateLimiter != nil {
			r.Use(dep.RateLimiter)
		}
		r.Use(middleware.AuthGate(dep.SessionResolver, routes, dep.SecureCookies))

		r.Get(routes.Landing, dep.AppHandler.Landing)
		r.Get("/ping", dep.AppHandler.Ping)
		r.Get("/auth/discord", dep.AuthHandler.DiscordLogin)
		r.Get("/discord/callback", dep.AuthHandler.DiscordCallback)
		r.Get("/logout", dep.AuthHandler.Logout)

		r.Route(routes.App, func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get("/", dep.AppHandler.Me)
			r.With(middleware.RequireAdmin).Get("/users", dep.AppHandler.ListUsers)
			if q := dep.QuestionHandler; q != nil {
				r.Get("/questions", q.List)
				r.Get("/question/new", q.New)
				r.Post("/question/submit", q.Submit)
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin)
					r.Get("/question/{id}/answer", q.Show)
					r.Post("/question/{id}/answer/submit", q.Answer)
				})
			}
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
