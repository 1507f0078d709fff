// Package grpcapi exposes the broker's control plane over gRPC. Messages
// are protobuf well-known types: requests and responses are Structs holding
// the same JSON shapes the HTTP API serves.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "spacebrew.v1.Control"

// Full method names
const (
	MethodListClients     = "/" + ServiceName + "/ListClients"
	MethodListRoutes      = "/" + ServiceName + "/ListRoutes"
	MethodListConnections = "/" + ServiceName + "/ListConnections"
	MethodAddRoute        = "/" + ServiceName + "/AddRoute"
	MethodRemoveRoute     = "/" + ServiceName + "/RemoveRoute"
	MethodRemoveClient    = "/" + ServiceName + "/RemoveClient"
	MethodWatch           = "/" + ServiceName + "/Watch"
)

// WatchServer is the server side of a Watch stream
type WatchServer = grpc.ServerStreamingServer[structpb.Struct]

// ControlServer is the server API for the Control service
type ControlServer interface {
	// ListClients returns {items: [client...]}
	ListClients(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// ListRoutes returns {items: [route...]}
	ListRoutes(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// ListConnections returns {items: [connection...]}
	ListConnections(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// AddRoute takes a route definition and returns {added, id}
	AddRoute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// RemoveRoute takes {id} and returns {removed}
	RemoveRoute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// RemoveClient takes {id} and returns {removed}
	RemoveClient(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Watch takes {no_msgs} and streams admin notifications
	Watch(*structpb.Struct, WatchServer) error
}

// ServiceDesc describes the Control service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListClients",
			Handler:    unaryHandler(MethodListClients, newEmpty, ControlServer.ListClients),
		},
		{
			MethodName: "ListRoutes",
			Handler:    unaryHandler(MethodListRoutes, newEmpty, ControlServer.ListRoutes),
		},
		{
			MethodName: "ListConnections",
			Handler:    unaryHandler(MethodListConnections, newEmpty, ControlServer.ListConnections),
		},
		{
			MethodName: "AddRoute",
			Handler:    unaryHandler(MethodAddRoute, newStruct, ControlServer.AddRoute),
		},
		{
			MethodName: "RemoveRoute",
			Handler:    unaryHandler(MethodRemoveRoute, newStruct, ControlServer.RemoveRoute),
		},
		{
			MethodName: "RemoveClient",
			Handler:    unaryHandler(MethodRemoveClient, newStruct, ControlServer.RemoveClient),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "spacebrew/v1/control.proto",
}

// RegisterControlServer registers srv with s
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func newEmpty() *emptypb.Empty   { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// unaryHandler adapts one ControlServer method to a grpc.MethodHandler,
// running it through the server's interceptor when there is one.
func unaryHandler[Req any](
	fullMethod string,
	newReq func() Req,
	call func(ControlServer, context.Context, Req) (*structpb.Struct, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).Watch(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
