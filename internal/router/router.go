package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-session-auth/internal/authz"
	"go-session-auth/internal/config"
	"go-session-auth/internal/handler"
	"go-session-auth/internal/metrics"
	"go-session-auth/internal/middleware"
)

type Handlers struct {
	Auth  *handler.AuthHandler
	User  *handler.UserHandler
	Demo  *handler.DemoHandler
	Audit *handler.AuditHandler
	Docs  *handler.DocsHandler
}

type Options struct {
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimitMiddleware
	Metrics       *metrics.Metrics
	// Health reports whether the backing store is reachable.
	Health func(ctx context.Context) error
}

func New(cfg *config.Config, opts Options, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimiter := opts.RateLimiter
	if rateLimiter == nil {
		rateLimiter = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	}

	r.Use(middleware.Recovery)
	r.Use(middleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.Logging)
	r.Use(opts.Metrics.Instrument)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimiter.Handler)
	r.Use(opts.Authenticator.Handler)

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(req.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	r.Get("/openapi.yaml", h.Docs.OpenAPI)
	r.Get("/swagger", h.Docs.SwaggerUI)

	requireAuth := middleware.RequireAuth
	roles := middleware.RequireRoles
	anyOf := middleware.RequireAuthorities

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/register", h.Auth.Register)
			auth.Post("/authenticate", h.Auth.Authenticate)
			auth.Post("/refresh-token", h.Auth.Refresh)
			auth.Post("/logout", h.Auth.Logout)
		})

		api.Route("/users", func(users chi.Router) {
			users.Use(requireAuth)
			users.Patch("/", h.User.ChangePassword)
			users.Get("/me", h.User.Me)
		})

		api.Route("/demo-controller", func(demo chi.Router) {
			demo.With(requireAuth).Get("/public", h.Demo.Public)
			demo.With(roles(authz.RoleAdmin), anyOf(authz.AdminRead)).Get("/admin", h.Demo.Admin)
			demo.With(roles(authz.RoleManager), anyOf(authz.ManagementRead)).Get("/manager", h.Demo.Manager)
		})

		api.Route("/management", func(m chi.Router) {
			m.Use(roles(authz.RoleAdmin, authz.RoleManager))
			resource := h.Demo.Resource("management")
			m.With(anyOf(authz.AdminRead, authz.ManagementRead)).Get("/", resource)
			m.With(anyOf(authz.AdminCreate, authz.ManagementCreate)).Post("/", resource)
			m.With(anyOf(authz.AdminUpdate, authz.ManagementUpdate)).Put("/", resource)
			m.With(anyOf(authz.AdminDelete, authz.ManagementDelete)).Delete("/", resource)
		})

		api.Route("/admin", func(a chi.Router) {
			a.Use(roles(authz.RoleAdmin))
			resource := h.Demo.Resource("admin")
			a.With(anyOf(authz.AdminRead)).Get("/", resource)
			a.With(anyOf(authz.AdminCreate)).Post("/", resource)
			a.With(anyOf(authz.AdminUpdate)).Put("/", resource)
			a.With(anyOf(authz.AdminDelete)).Delete("/", resource)
			a.With(anyOf(authz.AdminRead)).Get("/audit", h.Audit.List)
		})
	})

	return r
}
