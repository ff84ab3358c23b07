package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/validation-portal/app"
	"github.com/upb/validation-portal/handlers"
	"github.com/upb/validation-portal/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	// Cookies cross origins only for the configured front ends
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	var (
		sqlDB *sql.DB
		redis handlers.Pinger
		keys  handlers.KeyStats
	)
	if deps.DB != nil {
		sqlDB = deps.DB.DB
	}
	if deps.Redis != nil {
		redis = deps.Redis
	}
	if deps.KeyStore != nil {
		keys = deps.KeyStore
	}
	health := handlers.NewHealthHandler(sqlDB, redis, keys, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	users := handlers.NewUserHandler(deps.Users, deps.Logger)

	r.Route(deps.Config.Server.APIPrefix, func(r chi.Router) {
		// Authorization code flow
		r.Get("/login", handlers.AuthLoginHandler(deps))
		r.Get("/callback", handlers.AuthCallbackHandler(deps))
		r.Get("/logout", handlers.AuthLogoutHandler(deps))

		// Protected endpoints
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireUser)
			r.Get("/me", users.HandleMe)
			r.Get("/session", users.HandleSession)
			r.Get("/profile", users.HandleProfile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
