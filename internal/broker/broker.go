// Package broker runs one routing manager behind the configured transports:
// the WebSocket client transport, the HTTP management API with its poll
// link, and the gRPC control API.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/config"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/grpcapi"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/httpapi"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/jsoncomm"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/metrics"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/wsserver"
)

// DefaultCloseTimeout bounds the graceful stop performed by Close
const DefaultCloseTimeout = 5 * time.Second

var (
	// ErrNilConfig is returned when no configuration is given
	ErrNilConfig = errors.New("config cannot be nil")
	// ErrClosed is returned when starting a closed broker
	ErrClosed = errors.New("cannot start closed broker")
)

// Health summarizes the broker state
type Health struct {
	Healthy     bool   `json:"healthy"`
	Running     bool   `json:"running"`
	Clients     int    `json:"clients"`
	Routes      int    `json:"routes"`
	Connections int    `json:"connections"`
	Admins      int    `json:"admins"`
	WebSockets  int    `json:"websockets"`
	LinkClients int    `json:"linkClients"`
	Message     string `json:"message"`
}

// Option configures a Broker
type Option func(*Broker)

// WithLogger sets the base logger; transports get a component field
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithMetrics sets the metrics the manager and transports record into
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// Broker owns a Manager and the transports serving it. The Manager
// outlives Stop: clients registered through a stopped transport are
// removed as its connections close, routes stay.
type Broker struct {
	mu      sync.RWMutex
	config  *config.Config
	manager *topology.Manager
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// Transports, created by Start
	ws    *wsserver.Server
	http  *httpapi.Server
	grpc  *grpcapi.Server
	addrs map[string]string

	started bool
	closed  bool
	serving sync.WaitGroup
	errs    chan error
}

// New creates a broker for cfg. It validates cfg but opens no listener;
// call Start to begin operation.
func New(cfg *config.Config, opts ...Option) (*Broker, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &Broker{
		config: cfg,
		logger: zerolog.Nop(),
		errs:   make(chan error, 3),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = metrics.New()
	}
	b.manager = topology.NewManager(
		topology.WithLogger(b.component("manager")),
		topology.WithMetrics(b.metrics),
	)
	return b, nil
}

// Manager returns the routing manager
func (b *Broker) Manager() *topology.Manager {
	return b.manager
}

// Metrics returns the broker metrics
func (b *Broker) Metrics() *metrics.Metrics {
	return b.metrics
}

// Errors reports transports that stopped serving on their own
func (b *Broker) Errors() <-chan error {
	return b.errs
}

// Start installs the configured routes and starts every enabled transport.
// Starting a running broker is a no-op.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.started {
		return nil
	}

	routes, err := b.config.ParseRoutes()
	if err != nil {
		return err
	}
	for _, r := range routes {
		if b.manager.AddRoute(r) {
			b.logger.Info().Str("route_id", r.ID()).Str("style", r.Style()).Msg("installed configured route")
		}
	}

	var listeners []net.Listener
	listen := func(addr string) (net.Listener, error) {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, open := range listeners {
				_ = open.Close()
			}
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		listeners = append(listeners, l)
		return l, nil
	}

	var wsLis, httpLis, grpcLis net.Listener
	if addr := b.config.WebSocket.Listen; addr != "" {
		if wsLis, err = listen(addr); err != nil {
			return err
		}
	}
	if addr := b.config.HTTP.Listen; addr != "" {
		if httpLis, err = listen(addr); err != nil {
			return err
		}
	}
	if addr := b.config.GRPC.Listen; addr != "" {
		if grpcLis, err = listen(addr); err != nil {
			return err
		}
	}

	b.addrs = make(map[string]string)
	if wsLis != nil {
		comm, err := jsoncomm.New(b.manager, jsoncomm.WithLogger(b.component("jsoncomm")))
		if err != nil {
			for _, open := range listeners {
				_ = open.Close()
			}
			return fmt.Errorf("failed to create message handler: %w", err)
		}
		b.ws = wsserver.NewServer(b.manager, comm, wsserver.Config{Path: b.config.WebSocket.Path},
			wsserver.WithLogger(b.component("websocket")), wsserver.WithMetrics(b.metrics))
		b.addrs["websocket"] = wsLis.Addr().String()
		b.serve("websocket", wsLis, b.ws.Serve)
	}
	if httpLis != nil {
		b.http = httpapi.NewServer(b.manager, httpapi.Config{
			SecretKey:      b.config.HTTP.SecretKey,
			NoAuth:         b.config.HTTP.NoAuth,
			LinkBufferSize: b.config.Link.DefaultBufferSize,
			LinkTimeout:    time.Duration(b.config.Link.ClientTimeoutSeconds) * time.Second,
		}, httpapi.WithLogger(b.component("httpapi")), httpapi.WithMetrics(b.metrics))
		b.addrs["http"] = httpLis.Addr().String()
		b.serve("http", httpLis, b.http.Serve)
	}
	if grpcLis != nil {
		b.grpc = grpcapi.NewServer(b.manager, grpcapi.Config{ReadOnly: b.config.GRPC.ReadOnly},
			grpcapi.WithLogger(b.component("grpcapi")), grpcapi.WithMetrics(b.metrics))
		b.addrs["grpc"] = grpcLis.Addr().String()
		b.serve("grpc", grpcLis, b.grpc.Serve)
	}

	b.started = true
	b.logger.Info().
		Str("websocket", addrOf(wsLis)).
		Str("http", addrOf(httpLis)).
		Str("grpc", addrOf(grpcLis)).
		Int("routes", len(routes)).
		Msg("broker started")
	return nil
}

// serve runs fn on l in the background and reports an unexpected return.
func (b *Broker) serve(name string, l net.Listener, fn func(net.Listener) error) {
	b.serving.Add(1)
	go func() {
		defer b.serving.Done()
		if err := fn(l); err != nil {
			b.logger.Error().Err(err).Str("transport", name).Msg("transport stopped serving")
			select {
			case b.errs <- fmt.Errorf("%s: %w", name, err):
			default:
			}
		}
	}()
}

// Stop stops every transport. Connections are closed and the clients and
// admins registered through them are removed. Stopping a stopped broker is
// a no-op.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}

	var errs []error
	if b.ws != nil {
		if err := b.ws.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop websocket transport: %w", err))
		}
		b.ws = nil
	}
	if b.http != nil {
		if err := b.http.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop HTTP API: %w", err))
		}
		b.http = nil
	}
	if b.grpc != nil {
		if err := b.grpc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop gRPC API: %w", err))
		}
		b.grpc = nil
	}
	b.serving.Wait()

	b.addrs = nil
	b.started = false
	b.logger.Info().Msg("broker stopped")
	return errors.Join(errs...)
}

// Close stops the broker and marks it permanently closed
func (b *Broker) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCloseTimeout)
	defer cancel()

	err := b.Stop(ctx)

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return err
}

// Health returns the current broker state
func (b *Broker) Health(ctx context.Context) (Health, error) {
	if err := ctx.Err(); err != nil {
		return Health{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := b.manager.Stats()
	h := Health{
		Running:     b.started,
		Clients:     stats.Clients,
		Routes:      stats.Routes,
		Connections: stats.Connections,
		Admins:      stats.Admins,
	}
	if b.ws != nil {
		h.WebSockets = b.ws.Connections()
	}
	if b.http != nil {
		h.LinkClients = b.http.Link().Len()
	}

	switch {
	case b.closed:
		h.Message = "broker is closed"
	case !b.started:
		h.Message = "broker is not running"
	default:
		h.Healthy = true
		h.Message = "ok"
	}
	return h, nil
}

// Addrs returns the bound transport addresses of a running broker, keyed
// by transport name
func (b *Broker) Addrs() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	addrs := make(map[string]string, len(b.addrs))
	for k, v := range b.addrs {
		addrs[k] = v
	}
	return addrs
}

func addrOf(l net.Listener) string {
	if l == nil {
		return "disabled"
	}
	return l.Addr().String()
}

// component derives a transport logger
func (b *Broker) component(name string) zerolog.Logger {
	return b.logger.With().Str("component", name).Logger()
}
