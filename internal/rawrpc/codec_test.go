package rawrpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

func TestCodec_RoundTripsBytesUnmodified(t *testing.T) {
	c := Codec{}
	data, err := c.Marshal(Bytes(`{"id":"42"}`))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"id":"42"}`), data)

	var out Bytes
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, Bytes(`{"id":"42"}`), out)
}

func TestCodec_MarshalRejectsWrongType(t *testing.T) {
	_, err := Codec{}.Marshal("not bytes")
	assert.Error(t, err)
}

func TestInvoke_CallsUnaryMethodAndReturnsRawResponse(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "echo.EchoService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Echo", Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				var req Bytes
				if err := dec(&req); err != nil {
					return nil, err
				}
				reversed := make(Bytes, len(req))
				for i, b := range req {
					reversed[len(req)-1-i] = b
				}
				return reversed, nil
			}},
		},
	}, nil)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := Invoke(context.Background(), conn, "/echo.EchoService/Echo", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("cba"), resp)
}

func TestInvokeWithMetadata_SendsOutgoingAndReturnsHeaderMetadata(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "echo.EchoService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Echo", Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				var req Bytes
				if err := dec(&req); err != nil {
					return nil, err
				}
				md, _ := metadata.FromIncomingContext(ctx)
				if traceID := md.Get("x-trace-id"); len(traceID) > 0 {
					_ = grpc.SetHeader(ctx, metadata.Pairs("x-trace-id", traceID[0]))
				}
				return req, nil
			}},
		},
	}, nil)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	resp, header, err := InvokeWithMetadata(context.Background(), conn, "/echo.EchoService/Echo", []byte("abc"), metadata.Pairs("x-trace-id", "trace-123"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), resp)
	assert.Equal(t, []string{"trace-123"}, header.Get("x-trace-id"))
}
