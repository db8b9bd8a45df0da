package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"github.com/pegacorn/hestia/internal/repository"
)

// ServiceName is the fully qualified name of the record service.
const ServiceName = "hestia.v1.RecordService"

// ReadRequest asks for one record by id.
type ReadRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// ReadResponse carries the stored body verbatim.
type ReadResponse struct {
	Body json.RawMessage `json:"body"`
}

// SearchRequest carries the search parameters of one kind. A "limit"
// parameter caps the results and returns the newest first.
type SearchRequest struct {
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params"`
}

// SearchResponse is one matching body. Search streams one per match.
type SearchResponse struct {
	Body json.RawMessage `json:"body"`
}

// CreateRequest writes a record. An id is generated when the body has none.
type CreateRequest struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// CreateResponse reports the write.
type CreateResponse struct {
	Outcome repository.Outcome `json:"outcome"`
}

// RecordServiceServer is the server API of the record service.
type RecordServiceServer interface {
	Read(context.Context, *ReadRequest) (*ReadResponse, error)
	Search(*SearchRequest, grpc.ServerStreamingServer[SearchResponse]) error
	Create(context.Context, *CreateRequest) (*CreateResponse, error)
}

// RegisterRecordServiceServer registers srv with s.
func RegisterRecordServiceServer(s grpc.ServiceRegistrar, srv RecordServiceServer) {
	s.RegisterService(&RecordServiceDesc, srv)
}

func readHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecordServiceServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Read"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecordServiceServer).Read(ctx, req.(*ReadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func createHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecordServiceServer).Create(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Create"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecordServiceServer).Create(ctx, req.(*CreateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func searchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(SearchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RecordServiceServer).Search(in, &grpc.GenericServerStream[SearchRequest, SearchResponse]{ServerStream: stream})
}

// RecordServiceDesc describes the record service for registration.
var RecordServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecordServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Read", Handler: readHandler},
		{MethodName: "Create", Handler: createHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Search", Handler: searchHandler, ServerStreams: true},
	},
	Metadata: "hestia/v1/record_service",
}

// RecordClient calls the record service using the JSON codec.
type RecordClient struct {
	cc grpc.ClientConnInterface
}

// NewRecordClient creates a client over an existing connection.
func NewRecordClient(cc grpc.ClientConnInterface) *RecordClient {
	return &RecordClient{cc: cc}
}

// Read fetches one record body.
func (c *RecordClient) Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResponse, error) {
	out := new(ReadResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Read", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Create writes one record.
func (c *RecordClient) Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*CreateResponse, error) {
	out := new(CreateResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Create", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Search opens a stream of matching bodies.
func (c *RecordClient) Search(ctx context.Context, in *SearchRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[SearchResponse], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &RecordServiceDesc.Streams[0], "/"+ServiceName+"/Search", opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SearchRequest, SearchResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
