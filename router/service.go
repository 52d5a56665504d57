package router

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bobg/hbs/rpc"
)

// ServiceName is the gRPC name of the router service.
const ServiceName = "hbs.Router"

// RouterServer is the server API for the hbs.Router service.
type RouterServer interface {
	Save(context.Context, *SaveRequest) (*SaveResponse, error)
	Wants(context.Context, *WantsRequest) (*WantsResponse, error)
	Fetch(*FetchRequest, Router_FetchServer) error
	Stat(context.Context, *StatRequest) (*StatResponse, error)
	Metrics(context.Context, *MetricsRequest) (*MetricsResponse, error)
	Upload(Router_UploadServer) error
}

// UnimplementedRouterServer may be embedded to have forward compatible implementations.
type UnimplementedRouterServer struct{}

func (UnimplementedRouterServer) Save(context.Context, *SaveRequest) (*SaveResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Save not implemented")
}
func (UnimplementedRouterServer) Wants(context.Context, *WantsRequest) (*WantsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Wants not implemented")
}
func (UnimplementedRouterServer) Fetch(*FetchRequest, Router_FetchServer) error {
	return status.Error(codes.Unimplemented, "method Fetch not implemented")
}
func (UnimplementedRouterServer) Stat(context.Context, *StatRequest) (*StatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Stat not implemented")
}
func (UnimplementedRouterServer) Metrics(context.Context, *MetricsRequest) (*MetricsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Metrics not implemented")
}
func (UnimplementedRouterServer) Upload(Router_UploadServer) error {
	return status.Error(codes.Unimplemented, "method Upload not implemented")
}

// RegisterRouterServer registers srv with s.
func RegisterRouterServer(s grpc.ServiceRegistrar, srv RouterServer) {
	s.RegisterService(&Router_ServiceDesc, srv)
}

// Router_ServiceDesc is the grpc.ServiceDesc for the hbs.Router service.
var Router_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RouterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Save", Handler: unaryHandler("Save", func(srv RouterServer, ctx context.Context, in *SaveRequest) (interface{}, error) { return srv.Save(ctx, in) })},
		{MethodName: "Wants", Handler: unaryHandler("Wants", func(srv RouterServer, ctx context.Context, in *WantsRequest) (interface{}, error) { return srv.Wants(ctx, in) })},
		{MethodName: "Stat", Handler: unaryHandler("Stat", func(srv RouterServer, ctx context.Context, in *StatRequest) (interface{}, error) { return srv.Stat(ctx, in) })},
		{MethodName: "Metrics", Handler: unaryHandler("Metrics", func(srv RouterServer, ctx context.Context, in *MetricsRequest) (interface{}, error) { return srv.Metrics(ctx, in) })},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Fetch", Handler: _Router_Fetch_Handler, ServerStreams: true},
		{StreamName: "Upload", Handler: _Router_Upload_Handler, ServerStreams: true, ClientStreams: true},
	},
}

// methodHandler is the type of grpc.MethodDesc.Handler.
type methodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

// unaryHandler builds the handler of one unary method.
func unaryHandler[Req any, PReq interface {
	*Req
	rpc.Message
}](method string, call func(RouterServer, context.Context, PReq) (interface{}, error)) methodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RouterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(RouterServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _Router_Fetch_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(FetchRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RouterServer).Fetch(m, &routerFetchServer{stream})
}

// Router_FetchServer is the server side of a Fetch stream.
type Router_FetchServer interface {
	Send(*FetchResponse) error
	grpc.ServerStream
}

type routerFetchServer struct {
	grpc.ServerStream
}

func (x *routerFetchServer) Send(m *FetchResponse) error {
	return x.ServerStream.SendMsg(m)
}

func _Router_Upload_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RouterServer).Upload(&routerUploadServer{stream})
}

// Router_UploadServer is the server side of an Upload stream.
type Router_UploadServer interface {
	Send(*UploadResponse) error
	Recv() (*UploadRequest, error)
	grpc.ServerStream
}

type routerUploadServer struct {
	grpc.ServerStream
}

func (x *routerUploadServer) Send(m *UploadResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *routerUploadServer) Recv() (*UploadRequest, error) {
	m := new(UploadRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RouterClient is the client API for the hbs.Router service.
type RouterClient interface {
	Save(ctx context.Context, in *SaveRequest, opts ...grpc.CallOption) (*SaveResponse, error)
	Wants(ctx context.Context, in *WantsRequest, opts ...grpc.CallOption) (*WantsResponse, error)
	Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (Router_FetchClient, error)
	Stat(ctx context.Context, in *StatRequest, opts ...grpc.CallOption) (*StatResponse, error)
	Metrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (*MetricsResponse, error)
	Upload(ctx context.Context, opts ...grpc.CallOption) (Router_UploadClient, error)
}

type routerClient struct {
	cc grpc.ClientConnInterface
}

// NewRouterClient produces a RouterClient on cc.
// Every call selects this module's codec.
func NewRouterClient(cc grpc.ClientConnInterface) RouterClient {
	return &routerClient{cc: cc}
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(rpc.CodecName)}, opts...)
}

func (c *routerClient) Save(ctx context.Context, in *SaveRequest, opts ...grpc.CallOption) (*SaveResponse, error) {
	out := new(SaveResponse)
	if err := c.cc.Invoke(ctx, "/hbs.Router/Save", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *routerClient) Wants(ctx context.Context, in *WantsRequest, opts ...grpc.CallOption) (*WantsResponse, error) {
	out := new(WantsResponse)
	if err := c.cc.Invoke(ctx, "/hbs.Router/Wants", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *routerClient) Stat(ctx context.Context, in *StatRequest, opts ...grpc.CallOption) (*StatResponse, error) {
	out := new(StatResponse)
	if err := c.cc.Invoke(ctx, "/hbs.Router/Stat", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *routerClient) Metrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (*MetricsResponse, error) {
	out := new(MetricsResponse)
	if err := c.cc.Invoke(ctx, "/hbs.Router/Metrics", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *routerClient) Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (Router_FetchClient, error) {
	stream, err := c.cc.NewStream(ctx, &Router_ServiceDesc.Streams[0], "/hbs.Router/Fetch", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &routerFetchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Router_FetchClient is the client side of a Fetch stream.
type Router_FetchClient interface {
	Recv() (*FetchResponse, error)
	grpc.ClientStream
}

type routerFetchClient struct {
	grpc.ClientStream
}

func (x *routerFetchClient) Recv() (*FetchResponse, error) {
	m := new(FetchResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *routerClient) Upload(ctx context.Context, opts ...grpc.CallOption) (Router_UploadClient, error) {
	stream, err := c.cc.NewStream(ctx, &Router_ServiceDesc.Streams[1], "/hbs.Router/Upload", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &routerUploadClient{stream}, nil
}

// Router_UploadClient is the client side of an Upload stream.
type Router_UploadClient interface {
	Send(*UploadRequest) error
	Recv() (*UploadResponse, error)
	grpc.ClientStream
}

type routerUploadClient struct {
	grpc.ClientStream
}

func (x *routerUploadClient) Send(m *UploadRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *routerUploadClient) Recv() (*UploadResponse, error) {
	m := new(UploadResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
