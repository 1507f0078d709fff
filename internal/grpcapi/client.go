package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// Client calls the Control service
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to a control server at target. Without options the
// connection is unencrypted.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes a connection opened by Dial
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ListClients returns every registered client
func (c *Client) ListClients(ctx context.Context) ([]pubtopology.LeafSnapshot, error) {
	out, err := c.invokeList(ctx, MethodListClients)
	if err != nil {
		return nil, err
	}
	return fromListStruct[pubtopology.LeafSnapshot](out)
}

// ListRoutes returns every registered route
func (c *Client) ListRoutes(ctx context.Context) ([]pubtopology.RouteSnapshot, error) {
	out, err := c.invokeList(ctx, MethodListRoutes)
	if err != nil {
		return nil, err
	}
	return fromListStruct[pubtopology.RouteSnapshot](out)
}

// ListConnections returns every live connection
func (c *Client) ListConnections(ctx context.Context) ([]pubtopology.ConnectionSnapshot, error) {
	out, err := c.invokeList(ctx, MethodListConnections)
	if err != nil {
		return nil, err
	}
	return fromListStruct[pubtopology.ConnectionSnapshot](out)
}

// AddRoute registers a route and returns its id; added is false when an
// equal route already exists
func (c *Client) AddRoute(ctx context.Context, def pubtopology.RouteDefinition) (id string, added bool, err error) {
	in, err := toStruct(def)
	if err != nil {
		return "", false, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodAddRoute, in, out); err != nil {
		return "", false, err
	}
	return stringField(out, "id"), out.GetFields()["added"].GetBoolValue(), nil
}

// RemoveRoute removes the route with id
func (c *Client) RemoveRoute(ctx context.Context, id string) (bool, error) {
	return c.remove(ctx, MethodRemoveRoute, id)
}

// RemoveClient removes the client with id
func (c *Client) RemoveClient(ctx context.Context, id string) (bool, error) {
	return c.remove(ctx, MethodRemoveClient, id)
}

// Watch opens a notification stream. The first notification is a snapshot
// of the topology. noMsgs suppresses published payloads.
func (c *Client) Watch(ctx context.Context, noMsgs bool) (*WatchStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodWatch)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	in, err := structpb.NewStruct(map[string]any{"no_msgs": noMsgs})
	if err != nil {
		return nil, err
	}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: x}, nil
}

// WatchStream receives admin notifications
type WatchStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv blocks for the next notification. It returns io.EOF when the server
// ends the stream.
func (w *WatchStream) Recv() (pubtopology.Notification, error) {
	var n pubtopology.Notification
	msg, err := w.stream.Recv()
	if err != nil {
		return n, err
	}
	if err := fromStruct(msg, &n); err != nil {
		return n, err
	}
	return n, nil
}

func (c *Client) invokeList(ctx context.Context, method string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) remove(ctx context.Context, method, id string) (bool, error) {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return false, err
	}
	return out.GetFields()["removed"].GetBoolValue(), nil
}
