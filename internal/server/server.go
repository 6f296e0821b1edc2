package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/handler"
	"github.com/keygate/keygate/internal/openapi"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host               string
	Port               int
	ShutdownTimeout    time.Duration
	CORSOrigins        []string
	AdminRatePerMinute int
	CredentialHeader   string
	Routes             []Route
	Version            string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ShutdownTimeout:    30 * time.Second,
		CORSOrigins:        []string{"*"},
		AdminRatePerMinute: 120,
		CredentialHeader:   "Authorization",
	}
}

// Deps are the components the server routes requests to.
type Deps struct {
	Store       *config.Store
	Counter     ratelimit.CounterStore
	Limiter     *ratelimit.Limiter
	Verifier    *service.Verifier
	Recorder    *service.UsageRecorder
	Keys        *service.KeyService
	AdminTokens *service.AdminTokens
}

// Server is the top-level HTTP server for keygate. It owns the Chi router
// and the request gate in front of every API key protected route.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	gate       *middleware.Gate
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Invalid route configuration is reported here.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if err := validateRoutes(cfg.Routes); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		gate:   middleware.NewGate(deps.Verifier, deps.Limiter, deps.Recorder, cfg.CredentialHeader, logger),
	}
	if err := s.setupRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setupRouter() error {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	health := handler.NewHealthHandler(map[string]handler.Check{
		"credential_store": s.deps.Store.Ping,
		"counter_store":    s.deps.Counter.Ping,
	}, 2*time.Second)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// --- OpenAPI document (no auth required) ---
	doc := openapi.Generate(openapi.Options{
		Version:          s.cfg.Version,
		CredentialHeader: s.cfg.CredentialHeader,
		Routes:           openAPIRoutes(s.cfg.Routes),
	})
	r.Get("/openapi.json", handler.NewOpenAPIHandler(doc).ServeSpec)

	// --- Admin API ---
	r.Route("/api/v1/system", func(r chi.Router) {
		r.Use(middleware.AdminRateLimit(s.cfg.AdminRatePerMinute))
		r.Use(middleware.RequireAdmin(s.deps.AdminTokens))

		keys := handler.NewKeysHandler(s.deps.Keys)
		r.Get("/api-key", keys.ListAPIKeys)
		r.Post("/api-key", keys.CreateAPIKey)
		r.Get("/api-key/{keyId}", keys.GetAPIKey)
		r.Patch("/api-key/{keyId}", keys.UpdateAPIKey)
		r.Delete("/api-key/{keyId}", keys.DeleteAPIKey)
		r.Post("/api-key/{keyId}/revoke", keys.RevokeAPIKey)
		r.Get("/api-key/{keyId}/usage", keys.ListUsage)
		r.Get("/api-key/{keyId}/rate-limit", keys.RateLimitStatus)
	})

	// --- Built-in gated endpoints ---
	caller := handler.NewCallerHandler(s.deps.Limiter)
	r.With(s.gate.Handler(middleware.RoutePolicy{Endpoint: "/v1/whoami"})).Get("/v1/whoami", caller.WhoAmI)
	r.With(s.gate.Handler(middleware.RoutePolicy{Endpoint: "/v1/rate-limit"})).Get("/v1/rate-limit", caller.RateLimit)

	// --- Gated upstream routes ---
	for _, rt := range s.cfg.Routes {
		proxy, err := newProxy(rt, s.gate.CredentialHeader(), s.logger)
		if err != nil {
			return err
		}
		gated := r.With(s.gate.Handler(middleware.RoutePolicy{
			RequiredScope: rt.RequiredScope,
			Endpoint:      rt.Prefix,
		}))
		gated.Handle(rt.Prefix, proxy)
		gated.Handle(rt.Prefix+"/*", proxy)
	}

	s.router = r
	return nil
}

// reservedPrefixes are served by keygate itself and cannot be proxied.
var reservedPrefixes = []string{"/api/v1/system", "/v1/whoami", "/v1/rate-limit", "/healthz", "/readyz", "/openapi.json"}

func validateRoutes(routes []Route) error {
	seen := make(map[string]bool, len(routes))
	for _, rt := range routes {
		if !strings.HasPrefix(rt.Prefix, "/") || rt.Prefix == "/" || strings.HasSuffix(rt.Prefix, "/") {
			return fmt.Errorf("route prefix %q must start with / and not end with /", rt.Prefix)
		}
		if strings.ContainsAny(rt.Prefix, "{}*") {
			return fmt.Errorf("route prefix %q must be a literal path", rt.Prefix)
		}
		for _, reserved := range reservedPrefixes {
			if rt.Prefix == reserved || strings.HasPrefix(rt.Prefix, reserved+"/") || strings.HasPrefix(reserved, rt.Prefix+"/") {
				return fmt.Errorf("route prefix %q overlaps built-in path %s", rt.Prefix, reserved)
			}
		}
		if seen[rt.Prefix] {
			return fmt.Errorf("duplicate route prefix %q", rt.Prefix)
		}
		seen[rt.Prefix] = true
		u, err := url.Parse(rt.Upstream)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("route %q: upstream %q must be an absolute http or https URL", rt.Prefix, rt.Upstream)
		}
	}
	return nil
}

func openAPIRoutes(routes []Route) []openapi.Route {
	out := make([]openapi.Route, len(routes))
	for i, rt := range routes {
		out[i] = openapi.Route{Prefix: rt.Prefix, RequiredScope: rt.RequiredScope, Upstream: rt.Upstream}
	}
	return out
}

// Run starts the HTTP server and blocks until ctx is done, typically on
// SIGINT or SIGTERM. It then performs a graceful shutdown, draining in-flight
// requests before flushing queued usage records.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "routes", len(s.cfg.Routes))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		s.deps.Recorder.Close()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)

	// Every handler has returned, so no more usage events will be queued.
	s.deps.Recorder.Close()
	if dropped := s.deps.Recorder.Dropped(); dropped > 0 {
		s.logger.Warn("usage events dropped", "count", dropped)
	}

	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
