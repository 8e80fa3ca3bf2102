// Package core provides the HTTP chassis for membergate. It builds a chi
// router with the cross-cutting concerns (panic recovery, request logging,
// authentication, rate limiting and metrics) applied before requests reach
// the billing handlers.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"membergate/internal/config"
)

// Server encapsulates the dependencies of the API so tests can inject
// fakes and each environment can wire its own backends.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        *HTTPMetrics
	Authenticator  Authenticator  // Resolves bearer tokens to Actors.
	RateLimitStore RateLimitStore // nil disables rate limiting.
	HealthChecks   []HealthCheck

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// V1RouteRegistrars mount domain handlers under /v1. Populated by the
	// entry point so core does not import handler packages.
	V1RouteRegistrars []func(chi.Router)
	// RootRouteRegistrars mount routes outside /v1, such as provider
	// webhooks.
	RootRouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes the server and its router. Routes are mounted
// separately via MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router wrapped with response compression.
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(s.router)
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}
