// Package server exposes the recommendation engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hubenschmidt/blogrec/recommend"
	"github.com/hubenschmidt/blogrec/vector"
)

// HeaderAPIKey carries the shared secret for destructive routes.
const HeaderAPIKey = "X-API-Key"

// Recommender is the engine surface the handlers depend on.
type Recommender interface {
	Embed(ctx context.Context, doc recommend.Document) (string, error)
	EmbedBulk(ctx context.Context, docs []recommend.Document) (recommend.BulkResult, error)
	Search(ctx context.Context, text string, topK int, threshold float64) ([]vector.Payload, error)
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Response, error)
	Delete(ctx context.Context, articleID string) error
	Truncate(ctx context.Context) error
	Inspect(ctx context.Context, limit int) ([]vector.Payload, error)
}

// Config configures the HTTP surface.
type Config struct {
	APIKey      string
	CORSOrigins []string
	// WriteRateLimit is requests per minute per client IP on write routes; 0 disables.
	WriteRateLimit int
	// MaxBodyBytes caps request bodies; 0 selects 4 MiB.
	MaxBodyBytes int64
}

// Server is the HTTP API for blog recommendations.
type Server struct {
	engine   Recommender
	cfg      Config
	logger   zerolog.Logger
	validate *validator.Validate
}

func New(engine Recommender, cfg Config, logger zerolog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{
		engine:   engine,
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		validate: newValidator(),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(metrics)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderAPIKey},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/search", s.handleSearch)
	r.Get("/inspect", s.handleInspect)
	r.Post("/recommend", s.handleRecommend)

	r.Group(func(r chi.Router) {
		r.Use(s.writeLimiter())
		r.Post("/embed", s.handleEmbed)
		r.Post("/embed/bulk", s.handleEmbedBulk)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Delete("/delete", s.handleDelete)
			r.Delete("/truncate", s.handleTruncate)
		})
	})

	return r
}

func (s *Server) writeLimiter() func(http.Handler) http.Handler {
	if s.cfg.WriteRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.cfg.WriteRateLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Success: false, Detail: "rate limit exceeded"})
		}),
	)
}
