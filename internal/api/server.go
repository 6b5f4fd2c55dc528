package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/oentex/oentex/internal/auth"
	"github.com/oentex/oentex/internal/categories"
	"github.com/oentex/oentex/internal/config"
	"github.com/oentex/oentex/internal/deals"
	"github.com/oentex/oentex/internal/functions"
	"github.com/oentex/oentex/internal/live"
	"github.com/oentex/oentex/internal/metrics"
	"github.com/oentex/oentex/internal/ratings"
	"github.com/oentex/oentex/internal/storage"
)

// Dependencies are the services the API serves
type Dependencies struct {
	Repo       storage.Repository
	Deals      *deals.Service
	Ratings    *ratings.Service
	Categories *categories.Service
	Functions  *functions.Registry
	Hub        *live.Hub
	Verifier   *auth.Verifier
	AuthState  auth.State
	Metrics    *metrics.Metrics

	// OAuthRedirectPath is where the sign-in flow returns to
	OAuthRedirectPath string
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	deps           Dependencies
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	s := &Server{
		config:         cfg,
		deps:           deps,
		authMiddleware: NewAuthMiddleware(deps.Verifier, deps.AuthState),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		// The websocket outlives the request timeout
		if s.deps.Hub != nil {
			r.Get("/live", s.deps.Hub.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/deals", func(r chi.Router) {
				r.Get("/", s.handleListDeals)
				r.Get("/page", s.handleDealsPage)
				r.Get("/featured", s.handleFeaturedDeals)
				r.Post("/{id}/click", s.handleTrackClick)
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", s.handleListCategories)
				r.Get("/stats", s.handleCategoryStats)
				r.Get("/info", s.handleCategoryInfo)
			})

			r.Route("/companies/{id}", func(r chi.Router) {
				r.Get("/ratings", s.handleCompanyRatings)
				r.With(s.authMiddleware.RequireUser).Get("/rating", s.handleGetMyRating)
				r.With(s.authMiddleware.RequireUser).Put("/rating", s.handleSubmitRating)
			})

			r.With(s.authMiddleware.RequireUser).Get("/me/ratings", s.handleMyRatings)
			r.Get("/auth/session", s.handleSession)

			r.Post("/contact", s.handleContact)
			r.Post("/newsletter/subscribe", s.handleNewsletterSubscribe)
			r.Get("/newsletter/stats", s.handleNewsletterStats)
			r.Post("/functions/{name}", s.handleInvokeFunction)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog and records their duration
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			elapsed := time.Since(start)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			s.deps.Metrics.ObserveHTTP(route, r.Method, ww.Status(), elapsed)

			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", elapsed.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
