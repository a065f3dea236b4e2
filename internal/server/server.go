// Package server provides the HTTP server and routing for the risk engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/database"
	"github.com/aristath/riskengine/internal/metrics"
	optimizationhandlers "github.com/aristath/riskengine/internal/modules/optimization/handlers"
	riskhandlers "github.com/aristath/riskengine/internal/modules/risk/handlers"
)

// Engine is the request-level surface served under /api
type Engine interface {
	riskhandlers.Service
	optimizationhandlers.Service
}

// Config holds server configuration
type Config struct {
	Log            zerolog.Logger
	Port           int
	DevMode        bool
	RequestTimeout time.Duration
	Engine         Engine
	// Databases are reported by /health; nil entries are skipped
	Databases map[string]*database.DB
	Metrics   *metrics.Metrics
	// MaxInFlight is reported by the system status endpoint
	MaxInFlight int
}

// Server represents the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	port        int
	engine      Engine
	databases   map[string]*database.DB
	metrics     *metrics.Metrics
	maxInFlight int
	startedAt   time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		port:        cfg.Port,
		engine:      cfg.Engine,
		databases:   cfg.Databases,
		metrics:     cfg.Metrics,
		maxInFlight: cfg.MaxInFlight,
		startedAt:   time.Now(),
	}

	s.setupMiddleware(cfg.DevMode, timeout)
	s.setupRoutes()

	// Requests are bounded by the engine's own deadline; the write timeout leaves room
	// for the error envelope after it fires.
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the configured router (used by tests)
func (s *Server) Router() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool, timeout time.Duration) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}

	s.router.Use(middleware.Timeout(timeout + 5*time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/system/status", s.handleSystemStatus)

		if s.engine != nil {
			riskhandlers.NewHandler(s.engine, s.log).RegisterRoutes(r)
			optimizationhandlers.NewHandler(s.engine, s.log).RegisterRoutes(r)
		}
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
