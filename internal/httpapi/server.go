// Package httpapi serves the route service over HTTP: JSON reads and writes,
// a server-sent event stream of route changes, health and Prometheus metrics.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// Config holds server configuration
type Config struct {
	// Listen is the TCP listen address, e.g. ":8081"
	Listen string

	// SecretKey signs and verifies tokens. A random key is generated when empty,
	// so tokens then only live as long as the process.
	SecretKey string

	// NoAuth disables authentication (development only)
	NoAuth bool

	// KeepaliveInterval between SSE comment pings
	KeepaliveInterval time.Duration

	// StreamBuffer is the per-stream event buffer
	StreamBuffer int
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":8081"
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 256
	}
	if c.SecretKey == "" {
		buf := make([]byte, 32)
		_, _ = rand.Read(buf)
		c.SecretKey = hex.EncodeToString(buf)
	}
}

// Server represents the HTTP API server
type Server struct {
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	gatherer   prometheus.Gatherer
	server     *http.Server
	logger     *zap.Logger
}

// NewServer creates a new HTTP API server. A nil gatherer disables /metrics.
// Host and cluster administration are only served when enabled through opts.
func NewServer(routes routing.RouteAdminService, health HealthFunc, gatherer prometheus.Gatherer,
	config Config, logger *zap.Logger, opts ...Option) *Server {
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	jwtAuth := NewJWTAuth(config.SecretKey)
	s := &Server{
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(routes, health, jwtAuth, config, logger),
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		gatherer:   gatherer,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if config.NoAuth {
		logger.Warn("authentication disabled")
	}

	s.server = &http.Server{
		Addr:              config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Auth returns the token issuer used by the server
func (s *Server) Auth() *JWTAuth {
	return s.jwtAuth
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http api listening", zap.Stringer("addr", ln.Addr()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server. Open route streams end when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return s.server.Close()
	}
	return err
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}
	get := func(handler http.HandlerFunc) http.HandlerFunc {
		return methods(map[string]http.HandlerFunc{http.MethodGet: handler})
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// Route endpoints
	mux.Handle("/api/v1/routes", withMiddleware(methods(map[string]http.HandlerFunc{
		http.MethodGet:    s.middleware.AuthRequired(s.handlers.ListRoutes),
		http.MethodPost:   s.middleware.AdminRequired(s.handlers.UpdateRoutes),
		http.MethodDelete: s.middleware.AdminRequired(s.handlers.WithdrawRoutes),
	})))
	mux.Handle("/api/v1/routes/tables", withMiddleware(get(s.middleware.AuthRequired(s.handlers.ListTables))))
	mux.Handle("/api/v1/routes/resolved", withMiddleware(get(s.middleware.AuthRequired(s.handlers.ListResolvedRoutes))))
	mux.Handle("/api/v1/routes/prefix", withMiddleware(get(s.middleware.AuthRequired(s.handlers.GetPrefix))))
	mux.Handle("/api/v1/routes/lookup", withMiddleware(get(s.middleware.AuthRequired(s.handlers.Lookup))))
	mux.Handle("/api/v1/routes/stream", withMiddleware(get(s.middleware.AuthRequired(s.handlers.StreamRoutes))))

	if s.handlers.hosts != nil {
		mux.Handle("/api/v1/hosts", withMiddleware(methods(map[string]http.HandlerFunc{
			http.MethodGet:    s.middleware.AuthRequired(s.handlers.ListHosts),
			http.MethodPost:   s.middleware.AdminRequired(s.handlers.AddHost),
			http.MethodDelete: s.middleware.AdminRequired(s.handlers.RemoveHost),
		})))
	}
	if s.handlers.membership != nil {
		mux.Handle("/api/v1/cluster/nodes", withMiddleware(methods(map[string]http.HandlerFunc{
			http.MethodGet:  s.middleware.AuthRequired(s.handlers.ListNodes),
			http.MethodPost: s.middleware.AdminRequired(s.handlers.SetNodeState),
		})))
	}

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(get(s.handlers.Health)))

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("/", withMiddleware(s.handleRoot))
	return mux
}

// methods dispatches on the HTTP method
func methods(handlers map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.Method]; ok {
			h(w, r)
			return
		}
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service": "RouteMesh HTTP API",
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"routes": map[string]string{
				"tables":   "GET /api/v1/routes/tables",
				"list":     "GET /api/v1/routes?table={table}",
				"resolved": "GET /api/v1/routes/resolved?table={table}",
				"prefix":   "GET /api/v1/routes/prefix?prefix={prefix}",
				"lookup":   "GET /api/v1/routes/lookup?ip={ip}",
				"update":   "POST /api/v1/routes",
				"withdraw": "DELETE /api/v1/routes",
				"stream":   "GET /api/v1/routes/stream?table={table}",
			},
			"hosts": map[string]string{
				"list":   "GET /api/v1/hosts",
				"add":    "POST /api/v1/hosts",
				"remove": "DELETE /api/v1/hosts?id={id}",
			},
			"cluster": map[string]string{
				"nodes":     "GET /api/v1/cluster/nodes",
				"set_state": "POST /api/v1/cluster/nodes",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for route endpoints; writes need an admin token",
	}

	writeJSON(w, info, http.StatusOK)
}
