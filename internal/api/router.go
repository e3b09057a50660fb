package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/storefront-labs/livechat/internal/api/middleware"
	"github.com/storefront-labs/livechat/internal/chat"
	"github.com/storefront-labs/livechat/internal/handlers"
	"github.com/storefront-labs/livechat/internal/store"
)

// RouterDeps carries the wired components the router exposes over HTTP.
type RouterDeps struct {
	Store     store.ConversationStore
	Redis     *store.RedisStore // optional; enables rate limiting
	Chat      *chat.Service
	Sockets   *chat.SocketHandler
	AdminAuth *middleware.AdminAuth
	Whitelist []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (only when Redis is configured)
	if deps.Redis != nil {
		limiter := middleware.NewRateLimiter(deps.Redis.Client(), logger, deps.Whitelist)
		r.Use(limiter.Middleware)
	}

	// CORS - the widget embeds on arbitrary storefront origins
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Admin-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.Store, deps.Chat, deps.Redis)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Websocket endpoints. The admin socket checks its key during the
	// upgrade handshake, so it stays outside the REST auth group.
	r.Get("/ws/visitor", deps.Sockets.HandleVisitor)
	r.Get("/ws/admin", deps.Sockets.HandleAdmin)

	// Dashboard routes (require admin key)
	r.Group(func(r chi.Router) {
		r.Use(deps.AdminAuth.RequireAuth)

		r.Get("/admin/conversations", h.ListConversations)
		r.Get("/admin/conversations/{id}", h.GetConversation)
		r.Post("/admin/conversations/{id}/close", h.CloseConversation)
		r.Post("/admin/conversations/{id}/read", h.MarkConversationRead)
		r.Delete("/admin/conversations/{id}", h.DeleteConversation)

		r.Get("/admin/agents", h.ListAgents)
		r.Post("/admin/agents", h.CreateAgent)
		r.Put("/admin/agents/{id}", h.UpdateAgent)
		r.Delete("/admin/agents/{id}", h.DeleteAgent)
		r.Post("/admin/agents/{id}/activate", h.ActivateAgent)

		r.Get("/admin/templates", h.GetTemplates)
		r.Put("/admin/templates", h.UpdateTemplates)

		r.Get("/admin/stats", h.Stats)
	})

	return r
}
