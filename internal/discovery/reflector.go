package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/auth-platform/api-gateway/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// reflectionIgnorePrefixes lists services the reflection walk never treats
// as gateway-routable, since they describe the reflection/health protocol
// itself rather than application RPCs.
var reflectionIgnorePrefixes = []string{"grpc.reflection.", "grpc.health."}

func isIgnoredService(fullName string) bool {
	for _, prefix := range reflectionIgnorePrefixes {
		if strings.HasPrefix(fullName, prefix) {
			return true
		}
	}
	return false
}

// Reflector queries an upstream's server reflection v1 service and returns
// every unary method it exposes, tagged with the upstream name.
type Reflector struct{}

// NewReflector constructs a Reflector. It holds no state; one instance is
// shared across every upstream.
func NewReflector() *Reflector { return &Reflector{} }

// Discover lists upstream's services via reflection, retrieves each
// service's FileDescriptorProto, and extracts a MethodDescriptor for every
// unary RPC. Streaming methods are silently excluded, since the gateway
// only fronts request/response semantics.
func (r *Reflector) Discover(ctx context.Context, conn *grpc.ClientConn, upstream string) ([]domain.MethodDescriptor, error) {
	client := grpc_reflection_v1.NewServerReflectionClient(conn)
	stream, err := client.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("open reflection stream: %w", err)
	}
	defer stream.CloseSend()

	services, err := listServices(stream)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	files := protoregistry.Files{}
	var methods []domain.MethodDescriptor
	for _, svc := range services {
		if isIgnoredService(svc) {
			continue
		}
		fdProtos, err := fileDescriptorsForSymbol(stream, svc)
		if err != nil {
			return nil, fmt.Errorf("query service %s: %w", svc, err)
		}
		svcMethods, err := extractMethods(&files, fdProtos, svc)
		if err != nil {
			return nil, fmt.Errorf("extract methods for %s: %w", svc, err)
		}
		methods = append(methods, svcMethods...)
	}
	return methods, nil
}

func listServices(stream grpc_reflection_v1.ServerReflection_ServerReflectionInfoClient) ([]string, error) {
	req := &grpc_reflection_v1.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1.ServerReflectionRequest_ListServices{ListServices: ""},
	}
	if err := stream.Send(req); err != nil {
		return nil, err
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	if errResp := resp.GetErrorResponse(); errResp != nil {
		return nil, fmt.Errorf("reflection error %d: %s", errResp.GetErrorCode(), errResp.GetErrorMessage())
	}
	list := resp.GetListServicesResponse()
	if list == nil {
		return nil, fmt.Errorf("unexpected reflection response type")
	}
	names := make([]string, 0, len(list.GetService()))
	for _, s := range list.GetService() {
		names = append(names, s.GetName())
	}
	return names, nil
}

func fileDescriptorsForSymbol(stream grpc_reflection_v1.ServerReflection_ServerReflectionInfoClient, symbol string) ([]*descriptorpb.FileDescriptorProto, error) {
	req := &grpc_reflection_v1.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	}
	if err := stream.Send(req); err != nil {
		return nil, err
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	if errResp := resp.GetErrorResponse(); errResp != nil {
		return nil, fmt.Errorf("reflection error %d: %s", errResp.GetErrorCode(), errResp.GetErrorMessage())
	}
	fdResp := resp.GetFileDescriptorResponse()
	if fdResp == nil {
		return nil, fmt.Errorf("unexpected reflection response type")
	}
	out := make([]*descriptorpb.FileDescriptorProto, 0, len(fdResp.GetFileDescriptorProto()))
	for _, raw := range fdResp.GetFileDescriptorProto() {
		fd := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(raw, fd); err != nil {
			return nil, fmt.Errorf("unmarshal file descriptor: %w", err)
		}
		out = append(out, fd)
	}
	return out, nil
}

// extractMethods registers every received file (skipping ones already
// known, since the same dependency is often sent for multiple services)
// and returns the unary methods of the service named svcName.
//
// This omits full transitive-dependency resolution: a file whose direct
// imports were not included in the FileContainingSymbol response is
// registered best-effort and may fail to link. Upstreams built with
// protoc-gen-go register their full transitive file set with reflection by
// default, so this holds for any standard grpc-go service.
func extractMethods(files *protoregistry.Files, fdProtos []*descriptorpb.FileDescriptorProto, svcName string) ([]domain.MethodDescriptor, error) {
	var svcFileProto *descriptorpb.FileDescriptorProto
	for _, fd := range fdProtos {
		if _, err := files.FindFileByPath(fd.GetName()); err == nil {
			continue
		}
		file, err := protodesc.NewFile(fd, files)
		if err != nil {
			continue
		}
		if err := files.RegisterFile(file); err != nil {
			continue
		}
		if serviceDeclaredIn(fd, svcName) {
			svcFileProto = fd
		}
	}
	if svcFileProto == nil {
		return nil, fmt.Errorf("service %s not found in its own file descriptor", svcName)
	}

	file, err := files.FindFileByPath(svcFileProto.GetName())
	if err != nil {
		return nil, err
	}
	fileDesc, ok := file.(protoreflect.FileDescriptor)
	if !ok {
		return nil, fmt.Errorf("unexpected descriptor type for %s", svcFileProto.GetName())
	}

	shortName := protoreflect.Name(svcName[strings.LastIndex(svcName, ".")+1:])
	svcDesc := fileDesc.Services().ByName(shortName)
	if svcDesc == nil {
		return nil, fmt.Errorf("service %s not declared in %s", svcName, svcFileProto.GetName())
	}

	var out []domain.MethodDescriptor
	for i := 0; i < svcDesc.Methods().Len(); i++ {
		m := svcDesc.Methods().Get(i)
		if m.IsStreamingClient() || m.IsStreamingServer() {
			continue
		}
		out = append(out, domain.MethodDescriptor{
			Service:     svcName,
			Method:      string(m.Name()),
			RequestType: string(m.Input().FullName()),
			ReplyType:   string(m.Output().FullName()),
		})
	}
	return out, nil
}

func serviceDeclaredIn(fd *descriptorpb.FileDescriptorProto, svcName string) bool {
	pkg := fd.GetPackage()
	for _, svc := range fd.GetService() {
		full := svc.GetName()
		if pkg != "" {
			full = pkg + "." + full
		}
		if full == svcName {
			return true
		}
	}
	return false
}
