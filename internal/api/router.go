package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/api/handlers"
	"github.com/hugh/org-console/internal/api/middleware"
	"github.com/hugh/org-console/internal/audit"
	"github.com/hugh/org-console/internal/auth"
	"github.com/hugh/org-console/internal/invites"
	"github.com/hugh/org-console/internal/members"
	"github.com/hugh/org-console/internal/orgs"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Logger         *slog.Logger
	JWTService     *auth.JWTService
	AuthService    *auth.Service
	OrgService     *orgs.Service
	MemberService  *members.Service
	InviteService  *invites.Service
	Checker        *access.Checker
	Recorder       *audit.Recorder
	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	// Rate limiting - applied globally to prevent abuse
	if cfg.RateLimitReqs > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitReqs, cfg.RateLimitSecs))
	}

	// CORS - restrict to configured origins, or allow all in development
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		// Default to localhost for development - configure in production
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	authHandler := handlers.NewAuthHandler(cfg.AuthService)
	orgHandler := handlers.NewOrgHandler(cfg.DB, cfg.OrgService, cfg.MemberService, cfg.InviteService, cfg.Checker, cfg.Recorder)
	memberHandler := handlers.NewMemberHandler(cfg.MemberService)
	inviteHandler := handlers.NewInviteHandler(cfg.InviteService)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		// Public invite lookup, backs the invite landing page
		r.Get("/invites/validate", inviteHandler.Validate)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTService))

			// User endpoints
			r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
				userID := middleware.GetUserID(r.Context())
				user, err := cfg.AuthService.GetUserByID(r.Context(), userID)
				if err != nil {
					http.Error(w, "User not found", http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, user)
			})

			// Accept an invite as a logged-in user
			r.Post("/invites/accept", inviteHandler.Accept)

			// Organization endpoints
			r.Route("/orgs", func(r chi.Router) {
				r.Get("/", orgHandler.List)
				r.Post("/", orgHandler.Create)
				r.Post("/bootstrap", orgHandler.Bootstrap)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", orgHandler.Get)
					r.Delete("/", orgHandler.Delete)
					r.Post("/suspend", orgHandler.Suspend)
					r.Post("/reactivate", orgHandler.Reactivate)
					r.Post("/archive", orgHandler.Archive)
					r.Post("/transfer-ownership", orgHandler.TransferOwnership)
					r.Get("/audit", orgHandler.Audit)

					r.Route("/members", func(r chi.Router) {
						r.Get("/", memberHandler.List)
						r.Delete("/{userID}", memberHandler.Remove)
					})

					r.Route("/invites", func(r chi.Router) {
						r.Get("/", inviteHandler.List)
						r.Post("/", inviteHandler.Send)
						r.Post("/{inviteID}/resend", inviteHandler.Resend)
						r.Delete("/{inviteID}", inviteHandler.Cancel)
					})
				})
			})

			// Platform-admin user management
			r.Route("/admin/users", func(r chi.Router) {
				r.Post("/{userID}/archive", authHandler.ArchiveUser)
				r.Post("/{userID}/restore", authHandler.RestoreUser)
			})
		})
	})

	return &Router{r}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
