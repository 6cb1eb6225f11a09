// Package server provides the HTTP server and routing for quantcore.
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

	"github.com/aristath/quantcore/internal/database"
	"github.com/aristath/quantcore/internal/metrics"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/tools"
	"github.com/aristath/quantcore/internal/work"
)

// TenantHeader names the tenant whose capacity a request consumes
const TenantHeader = "X-Tenant-ID"

// Config holds server configuration
type Config struct {
	Log            zerolog.Logger
	Port           int
	DevMode        bool
	RequestTimeout time.Duration
	CORSOrigins    []string
	Tools          *tools.Service
	Exceptions     *compliance.ExceptionService
	Metrics        *metrics.Metrics
	Pool           *work.Pool
	MarketDB       *database.DB
	LedgerDB       *database.DB
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	port       int
	timeout    time.Duration
	tools      *tools.Service
	exceptions *compliance.ExceptionService
	metrics    *metrics.Metrics
	system     *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		port:       cfg.Port,
		timeout:    timeout,
		tools:      cfg.Tools,
		exceptions: cfg.Exceptions,
		metrics:    cfg.Metrics,
		system:     NewSystemHandlers(cfg.Log, cfg.Pool, cfg.MarketDB, cfg.LedgerDB),
	}

	s.setupMiddleware(cfg.DevMode, cfg.CORSOrigins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool, origins []string) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Request metrics
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}

	// CORS
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TenantHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
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
	s.router.Get("/health", s.system.HandleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/system/status", s.system.HandleStatus)

		// Tool calls run on the work pool, which enforces the deadline
		r.Route("/tools", func(r chi.Router) {
			r.Use(s.toolContext)
			r.Post("/data", s.handleLoadData)
			r.Post("/signals", s.handleComputeSignals)
			r.Post("/optimize", s.handleOptimize)
			r.Post("/backtest", s.handleBacktest)
			r.Post("/risk/metrics", s.handleRiskMetrics)
			r.Post("/risk/stress", s.handleRiskStress)
			r.Post("/compliance", s.handleCompliance)
			r.Post("/pipeline", s.handlePipeline)
		})

		r.Route("/exceptions", func(r chi.Router) {
			r.Post("/", s.handleRequestException)
			r.Get("/{id}", s.handleGetException)
			r.Get("/{id}/history", s.handleExceptionHistory)
			r.Post("/{id}/approve", s.handleApproveException)
			r.Post("/{id}/reject", s.handleRejectException)
			r.Get("/violations/{violationID}", s.handleExceptionsForViolation)
		})
	})
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
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

// toolContext applies the request deadline and the caller's tenant
func (s *Server) toolContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		ctx = tools.WithTenant(ctx, r.Header.Get(TenantHeader))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
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
