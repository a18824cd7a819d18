// Package web provides the HTTP API and dashboard for the data-quality
// service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/warehouse-dq/internal/config"
	"github.com/JonMunkholm/warehouse-dq/internal/core"
	"github.com/JonMunkholm/warehouse-dq/internal/metrics"
	"github.com/JonMunkholm/warehouse-dq/internal/web/middleware"
)

// Server is the HTTP server for the data-quality service.
type Server struct {
	service *core.Service
	cfg     *config.Config
	metrics *metrics.Recorder
	router  *chi.Mux
	server  *http.Server

	limiters []*rateLimiter
}

// NewServer wires routes and middleware. rec may be nil when metrics are
// disabled; /metrics is then not mounted.
func NewServer(service *core.Service, cfg *config.Config, rec *metrics.Recorder) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		metrics: rec,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger(s.metrics))
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute).middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleDashboard)
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Rule batches and maintenance hold database connections for a long
	// time, so they get a tighter per-IP limit than reads.
	heavy := func(next http.Handler) http.Handler { return next }
	if s.cfg.Rate.Enabled {
		heavy = s.newRateLimiter(s.cfg.Rate.RunLimit).middleware
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		// Load history
		r.Post("/load-history", s.handleRecordLoad)
		r.Get("/load-history", s.handleListLoads)

		// Quality metrics
		r.Get("/quality-metrics", s.handleListMetrics)
		r.Get("/quality-metrics/latest", s.handleLatestMetrics)

		// Rule registry and execution
		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleAddRule)
		r.With(heavy).Post("/rules/run", s.handleRunBatch)
		r.Get("/rules/{id}", s.handleGetRule)
		r.Post("/rules/{id}/deactivate", s.handleDeactivateRule)
		r.With(heavy).Post("/rules/{id}/run", s.handleRunRule)

		// Profiling
		r.Route("/profile/{schema}/{table}", func(r chi.Router) {
			r.Get("/", s.handleTableStats)
			r.Get("/duplicates", s.handleDuplicates)
			r.Get("/dates", s.handleDateProfile)
			r.Post("/record", s.handleRecordProfile)
		})

		// Maintenance
		r.With(heavy).Post("/maintenance/{schema}/refresh-views", s.handleRefreshViews)
		r.With(heavy).Post("/maintenance/{schema}/analyze", s.handleAnalyze)
	})
}

// Start begins listening for HTTP requests and blocks until the server
// stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its rate limiter janitors.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, l := range s.limiters {
		l.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// handleHealth reports database reachability and run-slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.RunLimiter().Status()
	body := map[string]any{
		"status": "ok",
		"runs":   status,
	}
	code := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		logRequestError(r, err, http.StatusServiceUnavailable, "DB")
		body["status"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, body)
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		// The dashboard inlines its stylesheet and loads nothing else.
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with a 200 status.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON. Encoding errors are only logged since
// the header is already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
