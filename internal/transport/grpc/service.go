package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The history service is described by hand with well-known types, so no
// generated code is needed:
//
//	service HistoryService {
//	  rpc Load(google.protobuf.StringValue) returns (google.protobuf.ListValue);
//	}
const (
	HistoryServiceName = "chatrelay.v1.HistoryService"
	LoadFullMethod     = "/" + HistoryServiceName + "/Load"
)

type HistoryServer interface {
	Load(ctx context.Context, roomID *wrapperspb.StringValue) (*structpb.ListValue, error)
}

var HistoryServiceDesc = grpc.ServiceDesc{
	ServiceName: HistoryServiceName,
	HandlerType: (*HistoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: loadHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatrelay/v1/history.proto",
}

func RegisterHistoryServer(s grpc.ServiceRegistrar, srv HistoryServer) {
	s.RegisterService(&HistoryServiceDesc, srv)
}

func loadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HistoryServer).Load(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LoadFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HistoryServer).Load(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// HistoryClient calls HistoryService over an existing connection.
type HistoryClient struct {
	cc grpc.ClientConnInterface
}

func NewHistoryClient(cc grpc.ClientConnInterface) *HistoryClient {
	return &HistoryClient{cc: cc}
}

func (c *HistoryClient) Load(ctx context.Context, roomID string, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, LoadFullMethod, wrapperspb.String(roomID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
