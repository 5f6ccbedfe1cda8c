package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified name graph hosts dial.
const ServiceName = "gripper.GRIPSource"

const (
	methodGetCollections    = "/" + ServiceName + "/GetCollections"
	methodGetCollectionInfo = "/" + ServiceName + "/GetCollectionInfo"
	methodGetIDs            = "/" + ServiceName + "/GetIDs"
	methodGetRows           = "/" + ServiceName + "/GetRows"
	methodGetRowsByID       = "/" + ServiceName + "/GetRowsByID"
	methodGetRowsByField    = "/" + ServiceName + "/GetRowsByField"
)

// GRIPSourceServer is the server side of the gripper protocol.
type GRIPSourceServer interface {
	GetCollections(*Empty, grpc.ServerStreamingServer[Collection]) error
	GetCollectionInfo(context.Context, *Collection) (*CollectionInfo, error)
	GetIDs(*Collection, grpc.ServerStreamingServer[RowID]) error
	GetRows(*Collection, grpc.ServerStreamingServer[Row]) error
	GetRowsByID(grpc.BidiStreamingServer[RowRequest, Row]) error
	GetRowsByField(*FieldRequest, grpc.ServerStreamingServer[Row]) error
}

// RegisterGRIPSourceServer registers srv on s.
func RegisterGRIPSourceServer(s grpc.ServiceRegistrar, srv GRIPSourceServer) {
	s.RegisterService(&GRIPSourceServiceDesc, srv)
}

// GRIPSourceServiceDesc describes the service for grpc.Server.RegisterService.
var GRIPSourceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GRIPSourceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCollectionInfo", Handler: getCollectionInfoHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "GetCollections", Handler: getCollectionsHandler, ServerStreams: true},
		{StreamName: "GetIDs", Handler: getIDsHandler, ServerStreams: true},
		{StreamName: "GetRows", Handler: getRowsHandler, ServerStreams: true},
		{StreamName: "GetRowsByID", Handler: getRowsByIDHandler, ServerStreams: true, ClientStreams: true},
		{StreamName: "GetRowsByField", Handler: getRowsByFieldHandler, ServerStreams: true},
	},
	Metadata: "gripper.proto",
}

func getCollectionInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Collection)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GRIPSourceServer).GetCollectionInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetCollectionInfo}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GRIPSourceServer).GetCollectionInfo(ctx, req.(*Collection))
	}
	return interceptor(ctx, in, info, handler)
}

func getCollectionsHandler(srv any, stream grpc.ServerStream) error {
	in := new(Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GRIPSourceServer).GetCollections(in, &grpc.GenericServerStream[Empty, Collection]{ServerStream: stream})
}

func getIDsHandler(srv any, stream grpc.ServerStream) error {
	in := new(Collection)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GRIPSourceServer).GetIDs(in, &grpc.GenericServerStream[Collection, RowID]{ServerStream: stream})
}

func getRowsHandler(srv any, stream grpc.ServerStream) error {
	in := new(Collection)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GRIPSourceServer).GetRows(in, &grpc.GenericServerStream[Collection, Row]{ServerStream: stream})
}

func getRowsByIDHandler(srv any, stream grpc.ServerStream) error {
	return srv.(GRIPSourceServer).GetRowsByID(&grpc.GenericServerStream[RowRequest, Row]{ServerStream: stream})
}

func getRowsByFieldHandler(srv any, stream grpc.ServerStream) error {
	in := new(FieldRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GRIPSourceServer).GetRowsByField(in, &grpc.GenericServerStream[FieldRequest, Row]{ServerStream: stream})
}

// GRIPSourceClient is the client side of the gripper protocol. Calls use
// the protobuf wire format unless grpc.CallContentSubtype(CodecName) is
// passed to select JSON.
type GRIPSourceClient interface {
	GetCollections(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Collection], error)
	GetCollectionInfo(ctx context.Context, in *Collection, opts ...grpc.CallOption) (*CollectionInfo, error)
	GetIDs(ctx context.Context, in *Collection, opts ...grpc.CallOption) (grpc.ServerStreamingClient[RowID], error)
	GetRows(ctx context.Context, in *Collection, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Row], error)
	GetRowsByID(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[RowRequest, Row], error)
	GetRowsByField(ctx context.Context, in *FieldRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Row], error)
}

type gripSourceClient struct {
	cc grpc.ClientConnInterface
}

// NewGRIPSourceClient wraps a connection.
func NewGRIPSourceClient(cc grpc.ClientConnInterface) GRIPSourceClient {
	return &gripSourceClient{cc: cc}
}

func (c *gripSourceClient) GetCollectionInfo(ctx context.Context, in *Collection, opts ...grpc.CallOption) (*CollectionInfo, error) {
	out := new(CollectionInfo)
	if err := c.cc.Invoke(ctx, methodGetCollectionInfo, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func serverStream[Req, Res any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, method string, in *Req, opts []grpc.CallOption) (grpc.ServerStreamingClient[Res], error) {
	stream, err := cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Res]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *gripSourceClient) GetCollections(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Collection], error) {
	return serverStream[Empty, Collection](ctx, c.cc, &GRIPSourceServiceDesc.Streams[0], methodGetCollections, in, opts)
}

func (c *gripSourceClient) GetIDs(ctx context.Context, in *Collection, opts ...grpc.CallOption) (grpc.ServerStreamingClient[RowID], error) {
	return serverStream[Collection, RowID](ctx, c.cc, &GRIPSourceServiceDesc.Streams[1], methodGetIDs, in, opts)
}

func (c *gripSourceClient) GetRows(ctx context.Context, in *Collection, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Row], error) {
	return serverStream[Collection, Row](ctx, c.cc, &GRIPSourceServiceDesc.Streams[2], methodGetRows, in, opts)
}

func (c *gripSourceClient) GetRowsByID(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[RowRequest, Row], error) {
	stream, err := c.cc.NewStream(ctx, &GRIPSourceServiceDesc.Streams[3], methodGetRowsByID, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[RowRequest, Row]{ClientStream: stream}, nil
}

func (c *gripSourceClient) GetRowsByField(ctx context.Context, in *FieldRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Row], error) {
	return serverStream[FieldRequest, Row](ctx, c.cc, &GRIPSourceServiceDesc.Streams[4], methodGetRowsByField, in, opts)
}
