package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"tickmatch/api/wire"
)

const serviceName = "tickmatch.OrderService"

// OrderServiceServer is the gateway contract. Messages are wire types
// carried by the tickwire codec.
type OrderServiceServer interface {
	PlaceOrder(context.Context, *wire.PlaceOrderRequest) (*wire.ExecutionReply, error)
	CancelOrder(context.Context, *wire.CancelOrderRequest) (*wire.ExecutionReply, error)
	GetTopOfBook(context.Context, *wire.BookRequest) (*wire.BookReply, error)
	GetDepth(context.Context, *wire.BookRequest) (*wire.BookReply, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: unary("PlaceOrder", OrderServiceServer.PlaceOrder)},
		{MethodName: "CancelOrder", Handler: unary("CancelOrder", OrderServiceServer.CancelOrder)},
		{MethodName: "GetTopOfBook", Handler: unary("GetTopOfBook", OrderServiceServer.GetTopOfBook)},
		{MethodName: "GetDepth", Handler: unary("GetDepth", OrderServiceServer.GetDepth)},
	},
	Metadata: "tickmatch.proto",
}

func Register(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed method to grpc.MethodHandler.
func unary[Req any, Resp any, PReq interface {
	*Req
	wire.Message
}](method string, call func(OrderServiceServer, context.Context, PReq) (Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	full := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(OrderServiceServer)
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(impl, ctx, req.(PReq))
		})
	}
}

// Client calls the gateway over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out wire.Message, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(wire.CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *Client) PlaceOrder(ctx context.Context, in *wire.PlaceOrderRequest, opts ...grpc.CallOption) (*wire.ExecutionReply, error) {
	out := new(wire.ExecutionReply)
	return out, c.invoke(ctx, "PlaceOrder", in, out, opts...)
}

func (c *Client) CancelOrder(ctx context.Context, in *wire.CancelOrderRequest, opts ...grpc.CallOption) (*wire.ExecutionReply, error) {
	out := new(wire.ExecutionReply)
	return out, c.invoke(ctx, "CancelOrder", in, out, opts...)
}

func (c *Client) GetTopOfBook(ctx context.Context, in *wire.BookRequest, opts ...grpc.CallOption) (*wire.BookReply, error) {
	out := new(wire.BookReply)
	return out, c.invoke(ctx, "GetTopOfBook", in, out, opts...)
}

func (c *Client) GetDepth(ctx context.Context, in *wire.BookRequest, opts ...grpc.CallOption) (*wire.BookReply, error) {
	out := new(wire.BookReply)
	return out, c.invoke(ctx, "GetDepth", in, out, opts...)
}
