// Package api provides the HTTP API server for the key relay.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/narvanalabs/keyrelay/internal/api/handlers"
	"github.com/narvanalabs/keyrelay/internal/api/health"
	"github.com/narvanalabs/keyrelay/internal/api/middleware"
	"github.com/narvanalabs/keyrelay/internal/auth"
	"github.com/narvanalabs/keyrelay/internal/mailer"
	"github.com/narvanalabs/keyrelay/internal/ratelimit"
	"github.com/narvanalabs/keyrelay/internal/store"
	"github.com/narvanalabs/keyrelay/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

const openAPISpecPath = "/openapi/openapi.yaml"

// Dependencies are the collaborators the server routes requests to.
type Dependencies struct {
	Store       store.Store
	Tokens      *auth.TokenService
	Admin       *auth.AdminGate
	Credentials *auth.CredentialService
	Mailer      mailer.Sender
	// Limiter throttles logins; nil disables throttling.
	Limiter ratelimit.Limiter
}

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	deps          Dependencies
	exempt        *middleware.Matcher
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	exempt, err := middleware.NewMatcher(middleware.DefaultExemptPatterns...)
	if err != nil {
		return nil, fmt.Errorf("compiling exempt patterns: %w", err)
	}

	s := &Server{
		deps:          deps,
		exempt:        exempt,
		config:        cfg,
		logger:        logger,
		healthChecker: health.NewChecker(deps.Store, Version),
	}

	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	if s.config.RateLimit.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.StripSlashes)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	gate := middleware.NewRequestGate(s.exempt, s.deps.Tokens, s.deps.Admin, s.logger)
	r.Use(gate.Authenticate)

	r.Get("/healthcheck", s.healthChecker.Handler())
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	docsHandler := handlers.NewDocsHandler(openAPISpecPath, s.logger)
	r.Get("/openapi", docsHandler.ServeSwaggerUI)
	r.Get(openAPISpecPath, docsHandler.ServeOpenAPISpec)

	keysHandler := handlers.NewKeysHandler(s.deps.Credentials, s.logger)
	authHandler := handlers.NewAuthHandler(s.deps.Credentials, handlers.LoginLimit{
		Limiter:  s.deps.Limiter,
		Requests: s.config.RateLimit.Requests,
		PerName:  s.config.RateLimit.PerName,
		Window:   s.config.RateLimit.Window,
	}, s.logger)
	emailHandler := handlers.NewEmailHandler(s.deps.Mailer, s.logger)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/", authHandler.Login)

			r.Route("/keys", func(r chi.Router) {
				r.Use(middleware.RequireAdmin(s.deps.Admin, s.logger))
				r.Post("/", keysHandler.Register)
				r.Get("/", keysHandler.List)
				r.Delete("/{name}", keysHandler.Revoke)
			})
		})

		r.Post("/email", emailHandler.Send)
	})

	r.Route("/v2", func(r chi.Router) {
		r.Post("/email", emailHandler.SendV2)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, r, apiNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, r, apiMethodNotAllowed)
	})

	s.router = r
}

// Start starts the HTTP server and blocks until ctx is canceled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr, "version", Version)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server. A server shut down before
// Start never begins listening.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.logger.Info("shutting down API server", "timeout", timeout.String())
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}

// HealthChecker returns the checker so callers can register optional
// components such as the rate limit backend.
func (s *Server) HealthChecker() *health.Checker {
	return s.healthChecker
}
