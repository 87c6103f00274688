package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func TestIsIgnoredService_FiltersReflectionAndHealth(t *testing.T) {
	assert.True(t, isIgnoredService("grpc.reflection.v1.ServerReflection"))
	assert.True(t, isIgnoredService("grpc.health.v1.Health"))
	assert.False(t, isIgnoredService("widgets.WidgetService"))
}

// widgetFileDescriptor hand-builds a FileDescriptorProto for a fake
// unary-only service, standing in for protoc-generated output so the
// reflection wire walk can be exercised without a build step.
func widgetFileDescriptor() *descriptorpb.FileDescriptorProto {
	str := func(s string) *string { return &s }
	b := func(v bool) *bool { return &v }

	return &descriptorpb.FileDescriptorProto{
		Name:    str("widgets.proto"),
		Package: str("widgets"),
		Syntax:  str("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: str("GetWidgetRequest")},
			{Name: str("GetWidgetResponse")},
			{Name: str("ListWidgetsRequest")},
			{Name: str("ListWidgetsResponse")},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: str("WidgetService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       str("GetWidget"),
						InputType:  str(".widgets.GetWidgetRequest"),
						OutputType: str(".widgets.GetWidgetResponse"),
					},
					{
						Name:            str("ListWidgets"),
						InputType:       str(".widgets.ListWidgetsRequest"),
						OutputType:      str(".widgets.ListWidgetsResponse"),
						ServerStreaming: b(true),
					},
				},
			},
		},
	}
}

// stubReflectionServer answers ListServices and FileContainingSymbol using
// a fixed, in-memory descriptor set.
type stubReflectionServer struct {
	grpc_reflection_v1.UnimplementedServerReflectionServer
	fd *descriptorpb.FileDescriptorProto
}

func (s *stubReflectionServer) ServerReflectionInfo(stream grpc_reflection_v1.ServerReflection_ServerReflectionInfoServer) error {
	for {
		req, err := stream.Recv()
		if err != nil {
			return err
		}
		switch msg := req.MessageRequest.(type) {
		case *grpc_reflection_v1.ServerReflectionRequest_ListServices:
			resp := &grpc_reflection_v1.ServerReflectionResponse{
				MessageRequest: &grpc_reflection_v1.ServerReflectionResponse_ListServicesResponse{
					ListServicesResponse: &grpc_reflection_v1.ListServiceResponse{
						Service: []*grpc_reflection_v1.ServiceResponse{{Name: "widgets.WidgetService"}},
					},
				},
			}
			if err := stream.Send(resp); err != nil {
				return err
			}
		case *grpc_reflection_v1.ServerReflectionRequest_FileContainingSymbol:
			raw, err := proto.Marshal(s.fd)
			if err != nil {
				return err
			}
			resp := &grpc_reflection_v1.ServerReflectionResponse{
				MessageRequest: &grpc_reflection_v1.ServerReflectionResponse_FileDescriptorResponse{
					FileDescriptorResponse: &grpc_reflection_v1.FileDescriptorResponse{
						FileDescriptorProto: [][]byte{raw},
					},
				},
			}
			if err := stream.Send(resp); err != nil {
				return err
			}
		default:
			_ = msg
		}
	}
}

func dialStub(t *testing.T, fd *descriptorpb.FileDescriptorProto) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	grpc_reflection_v1.RegisterServerReflectionServer(srv, &stubReflectionServer{fd: fd})
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	return conn, func() { conn.Close(); srv.Stop() }
}

func TestReflector_Discover_ExtractsUnaryMethodsOnly(t *testing.T) {
	conn, stop := dialStub(t, widgetFileDescriptor())
	defer stop()

	r := NewReflector()
	methods, err := r.Discover(context.Background(), conn, "widget-service")
	require.NoError(t, err)

	require.Len(t, methods, 1, "ListWidgets is server-streaming and must be excluded")
	assert.Equal(t, "GetWidget", methods[0].Method)
	assert.Equal(t, "widgets.WidgetService", methods[0].Service)
	assert.Equal(t, "widgets.GetWidgetRequest", methods[0].RequestType)
	assert.Equal(t, "widgets.GetWidgetResponse", methods[0].ReplyType)
}
