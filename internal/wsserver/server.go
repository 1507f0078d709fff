// Package wsserver serves the Spacebrew JSON protocol over WebSocket.
package wsserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/jsoncomm"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/metrics"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
)

const transportName = "websocket"

// Defaults
const (
	DefaultSendBuffer   = 256
	DefaultWriteTimeout = 10 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	DefaultMaxMessage   = 1 << 20 // 1MB
)

// Config holds server configuration
type Config struct {
	// Listen is the address Start listens on
	Listen string
	// Path is the upgrade path; empty means "/"
	Path string
	// SendBuffer is the number of outbound frames queued per connection
	SendBuffer   int
	WriteTimeout time.Duration
	// PongTimeout closes connections that stop answering pings
	PongTimeout time.Duration
	MaxMessage  int64
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = DefaultMaxMessage
	}
	return c
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records connection counts and invalid messages.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server accepts WebSocket connections and feeds their frames to a
// jsoncomm.Comm. Clients and admins registered over a connection are
// removed when it closes.
type Server struct {
	manager  *topology.Manager
	comm     *jsoncomm.Comm
	config   Config
	upgrader websocket.Upgrader
	server   *http.Server
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a new WebSocket server
func NewServer(manager *topology.Manager, comm *jsoncomm.Comm, config Config, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		comm:    comm,
		config:  config.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Spacebrew clients run from arbitrary web origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: zerolog.Nop(),
		conns:  make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle(s.config.Path, s)
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts connections on l until Stop.
func (s *Server) Serve(l net.Listener) error {
	err := s.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops accepting connections, closes the open ones and waits for
// their cleanup to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newConn(s, ws, remoteIP(r))
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.TransportOpened(transportName)
	s.logger.Debug().Str("remote", c.ip).Msg("websocket connection opened")

	go c.writeLoop()
	c.readLoop()
	s.release(c)
}

// release unregisters everything the connection registered.
func (s *Server) release(c *conn) {
	c.close()

	leaves, admin := c.registrations()
	if admin != nil {
		s.manager.RemoveAdmin(admin)
	}
	// by id: an operator may have removed the client and a new connection
	// registered the same name and metadata since
	for _, leaf := range leaves {
		s.manager.RemoveClient(topology.LeafByID(leaf.ID()))
	}

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()

	s.metrics.TransportClosed(transportName)
	s.logger.Debug().Str("remote", c.ip).Int("clients", len(leaves)).Msg("websocket connection closed")
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
