package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/api/middleware"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/delivery"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/handlers"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/hub"
	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/store"
)

// Deps bundles everything the router needs.
type Deps struct {
	Logger      zerolog.Logger
	Store       store.Store
	Hub         *hub.Hub
	Coordinator *delivery.Coordinator

	// RedisClient enables rate limiting when non-nil.
	RedisClient *redis.Client

	// ResponderToken guards the pending/respond surface when non-empty.
	ResponderToken string

	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB: 5000-char message + envelope slack
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (only when Redis is configured)
	if d.RedisClient != nil {
		limiter := middleware.NewRateLimiter(d.RedisClient, d.Logger)
		r.Use(limiter.Middleware)
	}

	allowedOrigins := d.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.New(d.Coordinator, d.Store)
	auth, err := middleware.NewResponderAuth(d.ResponderToken)
	if err != nil {
		return nil, err
	}

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Bidirectional transport
	r.Get("/ws", d.Hub.ServeWS(d.Coordinator))

	// Stateless transport
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/send", h.Send)
		r.Get("/history", h.History)
		r.Delete("/history", h.ClearHistory)

		// Responder surface
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireToken)

			r.Get("/pending", h.Pending)
			r.Delete("/pending/{id}", h.RemovePending)
			r.Delete("/pending", h.ClearPending)
			r.Post("/respond", h.Respond)
		})
	})

	return r, nil
}
