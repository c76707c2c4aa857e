// Package api wires the HTTP surface of the fieldguard server.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	repository "github.com/okian/fieldguard/internal/adapters/repository"
	service "github.com/okian/fieldguard/internal/app"
	"github.com/okian/fieldguard/internal/domain/geo"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
	"github.com/okian/fieldguard/pkg/metrics"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	Ingest(ctx context.Context, employeeID string, batch service.IngestBatch) (service.IngestResult, error)
	CheckGeofence(ctx context.Context, employeeID string, p geo.Point) (model.GeofenceCheckResult, error)

	ClockIn(ctx context.Context, employeeID string, req service.ClockRequest) (service.ClockResult, error)
	ClockOut(ctx context.Context, employeeID string, req service.ClockRequest) (service.ClockResult, error)
	Today(ctx context.Context, employeeID string) (*model.Attendance, error)

	Movement(ctx context.Context, employeeID, day string) (service.MovementReport, error)
	RecentAlerts(ctx context.Context, q repository.AlertQuery) ([]model.AlertRecord, error)
	SubscribeAlerts(buffer int) (<-chan model.AlertRecord, func())
}

// Roles allowed to read other employees' data.
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
)

// Server wires HTTP routes for the business API.
type Server struct {
	deps   Dependencies
	stats  StatsProvider
	tokens *TokenVerifier

	corsOrigins []string
	docs        http.Handler
	health      HealthChecker

	logger logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithDocs mounts an API documentation handler at /api-docs and /openapi.yaml.
func WithDocs(h http.Handler) Option {
	return func(s *Server) {
		s.docs = h
	}
}

// WithHealthChecker adds a readiness probe to /healthz.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Server) {
		s.health = h
	}
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, stats StatsProvider, tokens *TokenVerifier, opts ...Option) *Server {
	s := &Server{
		deps:   deps,
		stats:  stats,
		tokens: tokens,
		logger: logger.Get().Named("http"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(MetricsMiddleware)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.HandleHealth)
	r.Get("/stats", s.HandleStats)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	if s.docs != nil {
		r.Handle("/api-docs", s.docs)
		r.Handle("/openapi.yaml", s.docs)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(WithAuth(s.tokens, false))

		api.Post("/locations/batch", s.HandleIngestBatch)
		api.Get("/geofences/check", s.HandleGeofenceCheck)

		api.Route("/attendance", func(att chi.Router) {
			att.Post("/time-in", s.HandleTimeIn)
			att.Post("/time-out", s.HandleTimeOut)
			att.Get("/today", s.HandleToday)
		})

		api.Get("/reports/movement", s.HandleMovement)
		api.With(RequireAnyRole(RoleAdmin, RoleManager)).Get("/alerts", s.HandleAlerts)
	})

	// Browsers cannot set headers on a websocket handshake.
	r.With(WithAuth(s.tokens, true), RequireAnyRole(RoleAdmin, RoleManager)).
		Get("/ws/alerts", s.HandleAlertStream)

	return r
}

// NewHTTPServer wraps the router with the timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err through the error envelope. Server-side failures
// are logged; client errors are not.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.String("requestId", chimw.GetReqID(r.Context())),
			logger.Error(err),
		)
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	const maxBody = 4 << 20
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(dst)
}
