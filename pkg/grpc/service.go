package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The sync service speaks google.protobuf.Struct in both directions, so it
// needs no generated message types.

const (
	ServiceName = "mirror.v1.SyncService"

	MethodRunFull        = "/" + ServiceName + "/RunFull"
	MethodRunIncremental = "/" + ServiceName + "/RunIncremental"
	MethodGetCursor      = "/" + ServiceName + "/GetCursor"
)

type SyncServiceServer interface {
	RunFull(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunIncremental(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCursor(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(
	fullMethod string,
	call func(SyncServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SyncServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SyncServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunFull", Handler: unaryHandler(MethodRunFull, SyncServiceServer.RunFull)},
		{MethodName: "RunIncremental", Handler: unaryHandler(MethodRunIncremental, SyncServiceServer.RunIncremental)},
		{MethodName: "GetCursor", Handler: unaryHandler(MethodGetCursor, SyncServiceServer.GetCursor)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirror/v1/sync.proto",
}

func RegisterSyncServiceServer(s grpc.ServiceRegistrar, srv SyncServiceServer) {
	s.RegisterService(&SyncServiceDesc, srv)
}

type SyncServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSyncServiceClient(cc grpc.ClientConnInterface) *SyncServiceClient {
	return &SyncServiceClient{cc: cc}
}

func (c *SyncServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SyncServiceClient) RunFull(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRunFull, in, opts...)
}

func (c *SyncServiceClient) RunIncremental(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRunIncremental, in, opts...)
}

func (c *SyncServiceClient) GetCursor(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetCursor, in, opts...)
}

// TenantRequest builds the request every method takes.
func TenantRequest(tenantID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"tenant_id": structpb.NewStringValue(tenantID),
	}}
}
