package node

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bobg/hbs/rpc"
)

// ServiceName is the gRPC name of the storage node service.
const ServiceName = "hbs.Node"

// NodeServer is the server API for the hbs.Node service.
type NodeServer interface {
	Save(Node_SaveServer) error
	Load(*LoadRequest, Node_LoadServer) error
	Stat(context.Context, *StatRequest) (*StatResponse, error)
	Clone(context.Context, *CloneRequest) (*CloneResponse, error)
	Metrics(*MetricsRequest, Node_MetricsServer) error
}

// UnimplementedNodeServer may be embedded to have forward compatible implementations.
type UnimplementedNodeServer struct{}

func (UnimplementedNodeServer) Save(Node_SaveServer) error {
	return status.Error(codes.Unimplemented, "method Save not implemented")
}
func (UnimplementedNodeServer) Load(*LoadRequest, Node_LoadServer) error {
	return status.Error(codes.Unimplemented, "method Load not implemented")
}
func (UnimplementedNodeServer) Stat(context.Context, *StatRequest) (*StatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Stat not implemented")
}
func (UnimplementedNodeServer) Clone(context.Context, *CloneRequest) (*CloneResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Clone not implemented")
}
func (UnimplementedNodeServer) Metrics(*MetricsRequest, Node_MetricsServer) error {
	return status.Error(codes.Unimplemented, "method Metrics not implemented")
}

// RegisterNodeServer registers srv with s.
func RegisterNodeServer(s grpc.ServiceRegistrar, srv NodeServer) {
	s.RegisterService(&Node_ServiceDesc, srv)
}

// Node_ServiceDesc is the grpc.ServiceDesc for the hbs.Node service.
var Node_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stat", Handler: _Node_Stat_Handler},
		{MethodName: "Clone", Handler: _Node_Clone_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Save", Handler: _Node_Save_Handler, ClientStreams: true},
		{StreamName: "Load", Handler: _Node_Load_Handler, ServerStreams: true},
		{StreamName: "Metrics", Handler: _Node_Metrics_Handler, ServerStreams: true},
	},
}

func _Node_Stat_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).Stat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/hbs.Node/Stat"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).Stat(ctx, req.(*StatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Node_Clone_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CloneRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).Clone(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/hbs.Node/Clone"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).Clone(ctx, req.(*CloneRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Node_Save_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(NodeServer).Save(&nodeSaveServer{stream})
}

// Node_SaveServer is the server side of a Save stream.
type Node_SaveServer interface {
	SendAndClose(*SaveResponse) error
	Recv() (*SaveRequest, error)
	grpc.ServerStream
}

type nodeSaveServer struct {
	grpc.ServerStream
}

func (x *nodeSaveServer) SendAndClose(m *SaveResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *nodeSaveServer) Recv() (*SaveRequest, error) {
	m := new(SaveRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Node_Load_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(LoadRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(NodeServer).Load(m, &nodeLoadServer{stream})
}

// Node_LoadServer is the server side of a Load stream.
type Node_LoadServer interface {
	Send(*LoadResponse) error
	grpc.ServerStream
}

type nodeLoadServer struct {
	grpc.ServerStream
}

func (x *nodeLoadServer) Send(m *LoadResponse) error {
	return x.ServerStream.SendMsg(m)
}

func _Node_Metrics_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(MetricsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(NodeServer).Metrics(m, &nodeMetricsServer{stream})
}

// Node_MetricsServer is the server side of a Metrics stream.
type Node_MetricsServer interface {
	Send(*MetricsResponse) error
	grpc.ServerStream
}

type nodeMetricsServer struct {
	grpc.ServerStream
}

func (x *nodeMetricsServer) Send(m *MetricsResponse) error {
	return x.ServerStream.SendMsg(m)
}

// NodeClient is the client API for the hbs.Node service.
type NodeClient interface {
	Save(ctx context.Context, opts ...grpc.CallOption) (Node_SaveClient, error)
	Load(ctx context.Context, in *LoadRequest, opts ...grpc.CallOption) (Node_LoadClient, error)
	Stat(ctx context.Context, in *StatRequest, opts ...grpc.CallOption) (*StatResponse, error)
	Clone(ctx context.Context, in *CloneRequest, opts ...grpc.CallOption) (*CloneResponse, error)
	Metrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (Node_MetricsClient, error)
}

type nodeClient struct {
	cc grpc.ClientConnInterface
}

// NewNodeClient produces a NodeClient on cc.
// Every call selects this module's codec.
func NewNodeClient(cc grpc.ClientConnInterface) NodeClient {
	return &nodeClient{cc: cc}
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(rpc.CodecName)}, opts...)
}

func (c *nodeClient) Stat(ctx context.Context, in *StatRequest, opts ...grpc.CallOption) (*StatResponse, error) {
	out := new(StatResponse)
	if err := c.cc.Invoke(ctx, "/hbs.Node/Stat", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) Clone(ctx context.Context, in *CloneRequest, opts ...grpc.CallOption) (*CloneResponse, error) {
	out := new(CloneResponse)
	if err := c.cc.Invoke(ctx, "/hbs.Node/Clone", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) Save(ctx context.Context, opts ...grpc.CallOption) (Node_SaveClient, error) {
	stream, err := c.cc.NewStream(ctx, &Node_ServiceDesc.Streams[0], "/hbs.Node/Save", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &nodeSaveClient{stream}, nil
}

// Node_SaveClient is the client side of a Save stream.
type Node_SaveClient interface {
	Send(*SaveRequest) error
	CloseAndRecv() (*SaveResponse, error)
	grpc.ClientStream
}

type nodeSaveClient struct {
	grpc.ClientStream
}

func (x *nodeSaveClient) Send(m *SaveRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *nodeSaveClient) CloseAndRecv() (*SaveResponse, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(SaveResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *nodeClient) Load(ctx context.Context, in *LoadRequest, opts ...grpc.CallOption) (Node_LoadClient, error) {
	stream, err := c.cc.NewStream(ctx, &Node_ServiceDesc.Streams[1], "/hbs.Node/Load", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &nodeLoadClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Node_LoadClient is the client side of a Load stream.
type Node_LoadClient interface {
	Recv() (*LoadResponse, error)
	grpc.ClientStream
}

type nodeLoadClient struct {
	grpc.ClientStream
}

func (x *nodeLoadClient) Recv() (*LoadResponse, error) {
	m := new(LoadResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *nodeClient) Metrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (Node_MetricsClient, error) {
	stream, err := c.cc.NewStream(ctx, &Node_ServiceDesc.Streams[2], "/hbs.Node/Metrics", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &nodeMetricsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Node_MetricsClient is the client side of a Metrics stream.
type Node_MetricsClient interface {
	Recv() (*MetricsResponse, error)
	grpc.ClientStream
}

type nodeMetricsClient struct {
	grpc.ClientStream
}

func (x *nodeMetricsClient) Recv() (*MetricsResponse, error) {
	m := new(MetricsResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
