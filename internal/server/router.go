package server

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/config"
)

// RouterOptions controls the construction of the Warden HTTP router.
// The zero value is valid; sensible defaults are applied where fields are not set.
type RouterOptions struct {
	IAMService    iamAdminService
	Cfg           *config.Config
	RelyingParty  *auth.RelyingParty
	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
	ExtraRoutes   func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:5174",
			"http://127.0.0.1:5174",
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			auth.APIKeyHeader,
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// securityHeaders sets baseline response headers on every request.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the Warden handlers mounted. The router can be tailored via RouterOptions
// for CLI usage, tests, or other entrypoints.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	if opts.Cfg != nil && len(opts.Cfg.Auth.APIKeyQueryPaths) > 0 {
		r.Use(auth.APIKeyQueryShim(opts.Cfg.Auth.APIKeyQueryPaths))
	}

	// Apply custom middleware passed from the caller. The authentication and
	// route-authorization chain arrives here from the serve command.
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	if opts.IAMService != nil {
		r.Post("/auth/login", HandleLogin(opts.IAMService))
		r.Post("/auth/password/change", HandlePasswordChange(opts.IAMService))
		r.Post("/auth/oidc", HandleOIDCLogin(opts.IAMService))
	}

	// External IdP mode: mount the SSO redirect flow.
	if opts.RelyingParty != nil {
		r.Get("/auth/sso/login", HandleSSOLogin(opts.RelyingParty))
		if opts.IAMService != nil {
			r.Get("/auth/sso/callback", HandleSSOCallback(opts.RelyingParty, opts.IAMService))
		} else {
			log.Println("WARNING: Skipping /auth/sso/callback - IAMService not available")
		}
	}

	if opts.IAMService != nil {
		MountAdminRoutes(r, opts.IAMService)
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r
}

// MountAdminRoutes mounts the authenticated management API. Access control is
// enforced upstream by the route-authorization middleware against the stored
// policies, so handlers here assume an authorized caller.
func MountAdminRoutes(r chi.Router, svc iamAdminService) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/whoami", HandleWhoami())

		r.Route("/users", func(r chi.Router) {
			r.Post("/", HandleCreateUser(svc))
			r.Get("/", HandleListUsers(svc))
			r.Delete("/{username}", HandleDeleteUser(svc))
			r.Post("/{username}/suspend", HandleSetUserSuspended(svc, true))
			r.Post("/{username}/unsuspend", HandleSetUserSuspended(svc, false))
		})

		r.Route("/teams", func(r chi.Router) {
			r.Post("/", HandleCreateTeam(svc))
			r.Get("/", HandleListTeams(svc))
			r.Delete("/{name}", HandleDeleteTeam(svc))
			r.Put("/{name}/mapped-groups", HandleSetMappedGroups(svc))
			r.Post("/{name}/permissions", HandleGrantTeamPermission(svc))
		})

		r.Route("/permissions", func(r chi.Router) {
			r.Get("/", HandleListPermissions(svc))
			r.Post("/", HandleCreatePermission(svc))
		})

		r.Route("/apikeys", func(r chi.Router) {
			r.Post("/", HandleCreateAPIKey(svc))
			r.Get("/", HandleListAPIKeys(svc))
			r.Delete("/{publicID}", HandleRevokeAPIKey(svc))
			r.Post("/{publicID}/rotate", HandleRotateAPIKey(svc))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/usage/flush", HandleUsageFlush(svc))
			r.Post("/cache/clear", HandleCacheClear(svc))
		})
	})
}

// NewH2CHandler wraps the shared router with an h2c server to provide HTTP/2
// over cleartext for development clients behind plain TCP.
func NewH2CHandler(opts RouterOptions) (http.Handler, error) {
	router := NewRouter(opts)
	return h2c.NewHandler(router, &http2.Server{}), nil
}
