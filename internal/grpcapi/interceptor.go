package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows
// methods that leave the topology unchanged.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(codes.PermissionDenied, "%s is not allowed on a read-only control API", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

// isReadOnlyMethod checks if a gRPC method is read-only
func isReadOnlyMethod(method string) bool {
	// "/spacebrew.v1.Control/ListRoutes" -> "ListRoutes"
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	name := parts[len(parts)-1]

	for _, prefix := range []string{"List", "Get", "Watch"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
