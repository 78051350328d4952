package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName     = "matchbook.v1.BookQuery"
	getBookMethod   = "/" + serviceName + "/GetBook"
	listBooksMethod = "/" + serviceName + "/ListBooks"
)

// BookQueryServer is the read-only query surface over live books.
type BookQueryServer interface {
	GetBook(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListBooks(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var BookQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BookQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBook", Handler: getBookHandler},
		{MethodName: "ListBooks", Handler: listBooksHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "matchbook/v1/book_query.proto",
}

func RegisterBookQueryServer(s grpc.ServiceRegistrar, srv BookQueryServer) {
	s.RegisterService(&BookQueryServiceDesc, srv)
}

func getBookHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BookQueryServer).GetBook(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getBookMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BookQueryServer).GetBook(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listBooksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BookQueryServer).ListBooks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listBooksMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BookQueryServer).ListBooks(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls BookQuery over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetBook(ctx context.Context, bookID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getBookMethod, wrapperspb.String(bookID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListBooks(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listBooksMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
