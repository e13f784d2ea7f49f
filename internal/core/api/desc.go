package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "graphqlsub.v1.SubscriptionAPI"

// Full method names.
const (
	SubscribeMethod         = "/" + ServiceName + "/Subscribe"
	ListSubscriptionsMethod = "/" + ServiceName + "/ListSubscriptions"
)

// SubscriptionAPIServer is the server API. Requests and responses are
// google.protobuf.Struct messages.
type SubscriptionAPIServer interface {
	Subscribe(*structpb.Struct, SubscribeStream) error
	ListSubscriptions(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// SubscribeStream is the server side of a Subscribe call.
type SubscribeStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type subscribeStream struct {
	grpc.ServerStream
}

func (s *subscribeStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SubscriptionAPIServer).Subscribe(in, &subscribeStream{stream})
}

func listSubscriptionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SubscriptionAPIServer).ListSubscriptions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListSubscriptionsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SubscriptionAPIServer).ListSubscriptions(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the subscription service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SubscriptionAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSubscriptions", Handler: listSubscriptionsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "graphqlsub/v1/subscription.proto",
}

// RegisterSubscriptionAPIServer registers srv with s.
func RegisterSubscriptionAPIServer(s grpc.ServiceRegistrar, srv SubscriptionAPIServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the subscription service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ListSubscriptions calls the unary method.
func (c *Client) ListSubscriptions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListSubscriptionsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SubscribeClient receives deliveries of a Subscribe call.
type SubscribeClient struct {
	grpc.ClientStream
}

// Recv blocks for the next delivery.
func (c *SubscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Subscribe opens a delivery stream for the registration in.
func (c *Client) Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], SubscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SubscribeClient{ClientStream: stream}, nil
}
