// Package rawrpc lets the gateway invoke gRPC methods it has never seen a
// generated stub for. The gateway treats every upstream (and the auth
// service) as an opaque pair of byte slices: the HTTP body it already holds
// is forwarded as the request payload verbatim, and whatever bytes the
// upstream returns are forwarded back verbatim. This is what the pipeline's
// "pass-through" JSON conversion requires, and it's what lets one
// *grpc.ClientConn serve every discovered or overridden route without a
// compiled .proto per upstream.
package rawrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

// CodecName is registered with grpc/encoding so servers/clients using this
// codec negotiate the "raw" content-subtype instead of "proto".
const CodecName = "raw"

// Bytes wraps a raw payload so it can be passed through grpc.ClientConn.Invoke
// without protobuf marshaling.
type Bytes []byte

// Codec implements encoding.Codec by passing Bytes through unmodified. Any
// other type is a programmer error: this package is the only caller of
// Invoke, and it only ever sends/receives Bytes.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	b, ok := v.(Bytes)
	if !ok {
		return nil, fmt.Errorf("rawrpc: Marshal expects rawrpc.Bytes, got %T", v)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*Bytes)
	if !ok {
		return fmt.Errorf("rawrpc: Unmarshal expects *rawrpc.Bytes, got %T", v)
	}
	*p = append(Bytes(nil), data...)
	return nil
}

func init() {
	encoding.RegisterCodec(Codec{})
}

// Invoke performs a unary call to fullMethod (e.g. "/billing.BillingService/GetInvoice")
// over conn, sending reqBytes as the literal request payload and returning
// the literal response payload.
func Invoke(ctx context.Context, conn *grpc.ClientConn, fullMethod string, reqBytes []byte) ([]byte, error) {
	var reply Bytes
	err := conn.Invoke(ctx, fullMethod, Bytes(reqBytes), &reply, grpc.ForceCodec(Codec{}))
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// InvokeWithMetadata is Invoke plus outgoing metadata on the call and the
// response's header metadata on return, for callers (the dispatcher) that
// need to propagate trace/auth context and read it back from the upstream.
func InvokeWithMetadata(ctx context.Context, conn *grpc.ClientConn, fullMethod string, reqBytes []byte, outgoing metadata.MD) ([]byte, metadata.MD, error) {
	if len(outgoing) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, outgoing)
	}
	var header metadata.MD
	var reply Bytes
	err := conn.Invoke(ctx, fullMethod, Bytes(reqBytes), &reply, grpc.ForceCodec(Codec{}), grpc.Header(&header))
	if err != nil {
		return nil, header, err
	}
	return reply, header, nil
}
