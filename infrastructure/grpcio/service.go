package grpcio

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service every extension serves.
const ServiceName = "gantry.v1.ExtensionHost"

const (
	methodInitialize      = "/" + ServiceName + "/Initialize"
	methodGetCapabilities = "/" + ServiceName + "/GetCapabilities"
	methodCall            = "/" + ServiceName + "/Call"
)

// ExtensionHostServer is the contract an extension process serves. Payloads
// are the JSON frames from wireformat; Call params and results carry whole
// encoded envelopes. Servers must register with the raw codec forced.
type ExtensionHostServer interface {
	// Initialize receives the extension's own config block and returns an
	// InitializeResultWire.
	Initialize(ctx context.Context, config []byte) ([]byte, error)

	// GetCapabilities returns the capability array.
	GetCapabilities(ctx context.Context) ([]byte, error)

	// Call receives a CallRequestWire and returns a CallResultWire.
	Call(ctx context.Context, req []byte) ([]byte, error)

	// Stream pushes extension-initiated frames to the host. Part of the
	// contract for forward compatibility; the host does not consume it
	// yet.
	Stream(req []byte, stream grpc.ServerStream) error
}

// RegisterExtensionHostServer registers srv on s under the service name.
func RegisterExtensionHostServer(s grpc.ServiceRegistrar, srv ExtensionHostServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the hand-rolled service descriptor. There is no generated
// protobuf code: the wire contract is JSON frames behind the raw codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExtensionHostServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Initialize", Handler: initializeHandler},
		{MethodName: "GetCapabilities", Handler: getCapabilitiesHandler},
		{MethodName: "Call", Handler: callHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: streamHandler, ServerStreams: true},
	},
	Metadata: "gantry/v1/extension_host.json",
}

func initializeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	frame := new(rawFrame)
	if err := dec(frame); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		out, err := srv.(ExtensionHostServer).Initialize(ctx, req.(*rawFrame).data)
		return &rawFrame{data: out}, err
	}
	if interceptor == nil {
		return handler(ctx, frame)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInitialize}
	return interceptor(ctx, frame, info, handler)
}

func getCapabilitiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	frame := new(rawFrame)
	if err := dec(frame); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, _ any) (any, error) {
		out, err := srv.(ExtensionHostServer).GetCapabilities(ctx)
		return &rawFrame{data: out}, err
	}
	if interceptor == nil {
		return handler(ctx, frame)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetCapabilities}
	return interceptor(ctx, frame, info, handler)
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	frame := new(rawFrame)
	if err := dec(frame); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		out, err := srv.(ExtensionHostServer).Call(ctx, req.(*rawFrame).data)
		return &rawFrame{data: out}, err
	}
	if interceptor == nil {
		return handler(ctx, frame)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCall}
	return interceptor(ctx, frame, info, handler)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	frame := new(rawFrame)
	if err := stream.RecvMsg(frame); err != nil {
		return err
	}
	return srv.(ExtensionHostServer).Stream(frame.data, stream)
}
