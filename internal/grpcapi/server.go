package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/metrics"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

const (
	transportName = "grpc"

	// DefaultStreamBuffer is how many notifications a Watch stream may
	// fall behind before notifications are dropped
	DefaultStreamBuffer = 256
)

// ErrWatchBehind is returned to the manager when a Watch stream cannot keep up
var ErrWatchBehind = errors.New("watch stream is not keeping up")

// Config configures the gRPC control server
type Config struct {
	Listen string
	// ReadOnly rejects methods that change the topology
	ReadOnly bool
	// StreamBuffer bounds each Watch stream's backlog
	StreamBuffer int
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records request and stream metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server implements ControlServer over a topology manager
type Server struct {
	manager *topology.Manager
	config  Config
	grpc    *grpc.Server
	logger  zerolog.Logger
	metrics *metrics.Metrics

	quit     chan struct{}
	quitOnce sync.Once
}

var _ ControlServer = (*Server)(nil)

// NewServer creates the control server and registers it with a new
// grpc.Server
func NewServer(manager *topology.Manager, config Config, opts ...Option) *Server {
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = DefaultStreamBuffer
	}
	s := &Server{
		manager: manager,
		config:  config,
		logger:  zerolog.Nop(),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	unary := []grpc.UnaryServerInterceptor{s.observeInterceptor()}
	if config.ReadOnly {
		unary = append(unary, ReadOnlyInterceptor())
	}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(s.streamInterceptor()),
	)
	RegisterControlServer(s.grpc, s)
	return s
}

// GRPCServer returns the underlying grpc.Server
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpc
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC control API listening")
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop ends open Watch streams and stops the server gracefully, forcing it
// down when ctx expires first
func (s *Server) Stop(ctx context.Context) error {
	s.quitOnce.Do(func() { close(s.quit) })

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
		return ctx.Err()
	}
}

// ListClients returns every registered client
func (s *Server) ListClients(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return internalErr(listStruct(s.manager.GetClients()))
}

// ListRoutes returns every registered route
func (s *Server) ListRoutes(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return internalErr(listStruct(s.manager.GetRoutes()))
}

// ListConnections returns every live connection
func (s *Server) ListConnections(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return internalErr(listStruct(s.manager.GetConnections()))
}

// AddRoute parses a route definition and registers it. An equal route
// already registered is reported with added=false.
func (s *Server) AddRoute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var def pubtopology.RouteDefinition
	if err := fromStruct(req, &def); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed route definition: %v", err)
	}
	route, err := topology.ParseRoute(def)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if !s.manager.AddRoute(route) {
		return structpb.NewStruct(map[string]any{"added": false})
	}
	return structpb.NewStruct(map[string]any{"added": true, "id": route.ID()})
}

// RemoveRoute removes the route with the requested id
func (s *Server) RemoveRoute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "route id is required")
	}
	return structpb.NewStruct(map[string]any{"removed": s.manager.RemoveRoute(topology.RouteByID(id))})
}

// RemoveClient removes the client with the requested id
func (s *Server) RemoveClient(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "client id is required")
	}
	return structpb.NewStruct(map[string]any{"removed": s.manager.RemoveClient(topology.LeafByID(id))})
}

// Watch registers an admin for the lifetime of the stream and sends it
// every notification, starting with a snapshot of the topology
func (s *Server) Watch(req *structpb.Struct, stream WatchServer) error {
	events := make(chan pubtopology.Notification, s.config.StreamBuffer)
	admin, err := topology.NewAdmin(pubtopology.AdminSinkFunc(func(n pubtopology.Notification) error {
		select {
		case events <- n:
			return nil
		default:
			return ErrWatchBehind
		}
	}), map[string]any{"no_msgs": truthyField(req, "no_msgs")})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	s.manager.AddAdmin(admin)
	defer s.manager.RemoveAdmin(admin)
	logger := s.logger.With().Str("admin_id", admin.ID()).Logger()
	logger.Debug().Msg("watch stream opened")

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("watch stream closed")
			return nil
		case <-s.quit:
			return status.Error(codes.Unavailable, "server is shutting down")
		case n := <-events:
			msg, err := toStruct(n)
			if err != nil {
				logger.Error().Err(err).Msg("failed to convert notification")
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func internalErr(st *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

// observeInterceptor logs and counts unary calls
func (s *Server) observeInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)

		code := status.Code(err)
		s.metrics.ObserveRequest(info.FullMethod, code.String(), elapsed)
		event := s.logger.Debug()
		if err != nil && code != codes.InvalidArgument && code != codes.PermissionDenied {
			event = s.logger.Warn().Err(err)
		}
		event.Str("method", info.FullMethod).Str("code", code.String()).Dur("duration", elapsed).Msg("grpc request")
		return resp, err
	}
}

// streamInterceptor tracks open streams
func (s *Server) streamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		s.metrics.TransportOpened(transportName)
		defer s.metrics.TransportClosed(transportName)
		return handler(srv, ss)
	}
}
