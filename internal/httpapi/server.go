// Package httpapi serves the broker's management API, its admin event
// stream and the HTTP poll link.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/metrics"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
)

// Defaults
const (
	DefaultKeepalive    = 15 * time.Second
	DefaultStreamBuffer = 256
	defaultSecretKey    = "spacebrew-dev-secret-key-change-in-production"
)

// Server represents the HTTP API server
type Server struct {
	manager    *topology.Manager
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	link       *Link
	server     *http.Server
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	runOnce sync.Once
	cancel  context.CancelFunc
}

// Config holds server configuration
type Config struct {
	Listen    string
	SecretKey string
	// NoAuth disables JWT checks
	NoAuth bool
	// LinkBufferSize is the default per-subscriber poll buffer
	LinkBufferSize int
	// LinkTimeout unregisters poll clients that stop polling; zero disables
	LinkTimeout time.Duration
	// Keepalive is the comment interval on event streams
	Keepalive time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP API server
func NewServer(manager *topology.Manager, config Config, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	secretKey := config.SecretKey
	if secretKey == "" {
		if !config.NoAuth {
			s.logger.Warn().Msg("no secret key configured; using the development key")
		}
		secretKey = defaultSecretKey
	}

	s.jwtAuth = NewJWTAuth(secretKey)
	s.link = NewLink(manager, config.LinkBufferSize, config.LinkTimeout, s.logger)
	s.handlers = NewHandlers(manager, s.jwtAuth, s.link, s.logger)
	if config.Keepalive > 0 {
		s.handlers.keepalive = config.Keepalive
	}
	s.middleware = NewMiddleware(s.jwtAuth, config.NoAuth, s.logger, s.metrics)

	s.server = &http.Server{
		Addr:              config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Link returns the HTTP poll link
func (s *Server) Link() *Link {
	return s.link
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	s.run()
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts connections on l until Stop
func (s *Server) Serve(l net.Listener) error {
	s.run()
	err := s.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// run starts link expiry once.
func (s *Server) run() {
	s.runOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.link.Run(ctx, DefaultLinkExpiryInterval)
	})
}

// Stop gracefully stops the HTTP server and unregisters poll clients
func (s *Server) Stop(ctx context.Context) error {
	s.runOnce.Do(func() {})
	if s.cancel != nil {
		s.cancel()
	}
	err := s.server.Shutdown(ctx)
	if cerr := s.link.Close(); err == nil {
		err = cerr
	}
	return err
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.onlyMethod(http.MethodPost, s.handlers.Login)))

	// Topology endpoints (admin auth required)
	mux.Handle("/api/v1/clients", withMiddleware(s.middleware.AdminRequired(s.onlyMethod(http.MethodGet, s.handlers.ListClients))))
	mux.Handle("/api/v1/clients/", withMiddleware(s.middleware.AdminRequired(s.handleClientByID)))
	mux.Handle("/api/v1/routes", withMiddleware(s.middleware.AdminRequired(s.handleRoutes)))
	mux.Handle("/api/v1/routes/", withMiddleware(s.middleware.AdminRequired(s.handleRouteByID)))
	mux.Handle("/api/v1/connections", withMiddleware(s.middleware.AdminRequired(s.onlyMethod(http.MethodGet, s.handlers.ListConnections))))
	mux.Handle("/api/v1/stats", withMiddleware(s.middleware.AdminRequired(s.onlyMethod(http.MethodGet, s.handlers.Stats))))
	mux.Handle("/api/v1/admin/stream", withMiddleware(s.middleware.AdminRequired(s.onlyMethod(http.MethodGet, s.handlers.StreamAdmin))))

	// Link endpoints (auth required)
	mux.Handle("/api/v1/link/clients", withMiddleware(s.middleware.AuthRequired(s.onlyMethod(http.MethodPost, s.handlers.LinkRegister))))
	mux.Handle("/api/v1/link/clients/", withMiddleware(s.middleware.AuthRequired(s.handleLinkClient)))

	// Health and metrics (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.onlyMethod(http.MethodGet, s.handlers.Health)))
	mux.Handle("/metrics", s.metrics.Handler())

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// Route handlers that dispatch based on HTTP method

func (s *Server) onlyMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// handleClientByID handles GET and DELETE /api/v1/clients/{id}
func (s *Server) handleClientByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/clients/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, "Client ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handlers.GetClient(w, r, id)
	case http.MethodDelete:
		s.handlers.DeleteClient(w, r, id)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoutes routes route requests based on HTTP method
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.ListRoutes(w, r)
	case http.MethodPost:
		s.handlers.AddRoute(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRouteByID handles DELETE /api/v1/routes/{id}
func (s *Server) handleRouteByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/routes/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, "Route ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		s.handlers.DeleteRoute(w, r, id)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLinkClient handles /api/v1/link/clients/{id}[/messages|/publish]
func (s *Server) handleLinkClient(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/link/clients/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, "Link client ID required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		s.handlers.LinkUnregister(w, r, id)
	case action == "messages" && r.Method == http.MethodGet:
		s.handlers.LinkPoll(w, r, id)
	case action == "publish" && r.Method == http.MethodPost:
		s.handlers.LinkPublish(w, r, id)
	case action == "" || action == "messages" || action == "publish":
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		writeError(w, "Not found", http.StatusNotFound)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]any{
		"service":     "Spacebrew HTTP API",
		"version":     "1.0.0",
		"description": "Management API and HTTP poll link for the Spacebrew routing broker",
		"endpoints": map[string]any{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"clients": map[string]string{
				"list":   "GET /api/v1/clients",
				"get":    "GET /api/v1/clients/{id}",
				"remove": "DELETE /api/v1/clients/{id}",
			},
			"routes": map[string]string{
				"list":   "GET /api/v1/routes",
				"add":    "POST /api/v1/routes",
				"remove": "DELETE /api/v1/routes/{id}",
			},
			"connections": "GET /api/v1/connections",
			"stats":       "GET /api/v1/stats",
			"adminStream": "GET /api/v1/admin/stream?no_msgs={true|false}",
			"link": map[string]string{
				"register":   "POST /api/v1/link/clients",
				"poll":       "GET /api/v1/link/clients/{id}/messages?format={json|brief}",
				"publish":    "POST /api/v1/link/clients/{id}/publish",
				"unregister": "DELETE /api/v1/link/clients/{id}",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
