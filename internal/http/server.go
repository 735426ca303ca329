// Package portalhttp exposes the portal's aggregate reports over HTTP.
package portalhttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/strongaya/federated-data-portal/internal/auth"
	"github.com/strongaya/federated-data-portal/internal/config"
	"github.com/strongaya/federated-data-portal/internal/http/middleware"
	"github.com/strongaya/federated-data-portal/internal/http/problem"
	"github.com/strongaya/federated-data-portal/internal/platform/health"
	"github.com/strongaya/federated-data-portal/internal/schema"
	"github.com/strongaya/federated-data-portal/internal/store"
	pkglog "github.com/strongaya/federated-data-portal/pkg/log"
	"github.com/strongaya/federated-data-portal/pkg/metrics"
)

// maxRequestBody caps request bodies. The API takes no payloads, so this only
// guards against abuse.
const maxRequestBody = 1 << 20

// Refresher triggers background fetches and streams snapshot updates. The
// collector satisfies it; tests substitute stubs.
type Refresher interface {
	Refresh()
	Subscribe() (<-chan store.Snapshot, func())
}

// Options wires the server's collaborators. Store and Schemas are required.
type Options struct {
	Config    config.Config
	Store     *store.Store
	Schemas   *schema.Holder
	Collector Refresher
	Checker   *health.Checker
	Registry  *metrics.Registry
	Auth      *auth.Authenticator
	OpenAPI   http.Handler
}

// Server serves the portal API.
type Server struct {
	cfg       config.Config
	store     *store.Store
	schemas   *schema.Holder
	collector Refresher
	checker   *health.Checker
	registry  *metrics.Registry
	requests  *metrics.RequestMetrics
	auth      *auth.Authenticator
	openapi   http.Handler

	limiter *rateLimiter
	cors    *cors.Cors

	httpServer *http.Server
}

// New constructs the server.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Schemas == nil {
		return nil, errors.New("schema holder is required")
	}

	s := &Server{
		cfg:       opts.Config,
		store:     opts.Store,
		schemas:   opts.Schemas,
		collector: opts.Collector,
		checker:   opts.Checker,
		registry:  opts.Registry,
		auth:      opts.Auth,
		openapi:   opts.OpenAPI,
		limiter:   newRateLimiter(opts.Config.RateLimit.Window.AsDuration(), opts.Config.RateLimit.Max),
	}

	if opts.Registry != nil && opts.Config.Metrics.Enabled {
		s.requests = metrics.NewRequestMetrics(opts.Registry)
	}

	if origins := opts.Config.CORS.AllowedOrigins; len(origins) > 0 {
		s.cors = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id", "X-Trace-Id"},
			MaxAge:         300,
		})
	}

	return s, nil
}

// Handler assembles the routes and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	if s.registry != nil && s.cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", s.registry.Handler())
	}
	if s.openapi != nil {
		mux.Handle("GET /openapi.json", s.openapi)
	}

	mux.HandleFunc("GET /api/v1/summary", s.handleSummary)
	mux.HandleFunc("GET /api/v1/distribution/organisations", s.handleOrganisationDistribution)
	mux.HandleFunc("GET /api/v1/distribution/countries", s.handleCountryDistribution)
	mux.HandleFunc("GET /api/v1/availability", s.handleAvailability)
	mux.HandleFunc("GET /api/v1/completeness", s.handleCompleteness)
	mux.HandleFunc("GET /api/v1/schema", s.handleSchema)
	mux.HandleFunc("GET /api/v1/snapshots", s.handleSnapshots)
	mux.HandleFunc("POST /api/v1/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	var handler http.Handler = mux

	handler = middleware.Logging(
		pkglog.Named("http"),
		s.observe,
		requestIDFromContext,
		traceIDFromContext,
	)(handler)
	handler = middleware.BodyLimit(maxRequestBody)(handler)
	handler = middleware.RateLimit(
		s.limiter.allow,
		clientKey,
		time.Now,
		traceIDFromContext,
		problem.Write,
	)(handler)
	if s.cors != nil {
		handler = middleware.CORS(s.cors, traceIDFromContext, problem.Write)(handler)
	}
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestMetadata(ensureRequestIDs)(handler)

	return handler
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logger := pkglog.Named("http")

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.HTTP.Port),
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.HTTP.ShutdownTimeout.AsDuration()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Infow("shutting down", "timeout", timeout.String())
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) observe(route string, status int, elapsed time.Duration) {
	if s.requests == nil {
		return
	}
	s.requests.Observe(route, status, elapsed.Seconds())
}

// clientKey groups requests by client address for rate limiting. A forwarded
// header wins over the socket peer so limits survive a reverse proxy.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
