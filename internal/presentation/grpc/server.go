// Package grpc hosts the gateway's own small gRPC surface: a standard
// health service so orchestrators that prefer gRPC health checks over HTTP
// have one, running alongside the HTTP presentation layer rather than in
// place of it.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	grpcerrors "github.com/auth-platform/api-gateway/internal/grpc"
	"github.com/auth-platform/api-gateway/internal/pool"
	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server is the gateway's own gRPC listener, distinct from the HTTP
// presentation layer and from the upstream channels the pool dials out.
type Server struct {
	server   *grpc.Server
	listener net.Listener
	logger   *slog.Logger
}

// Config holds Server construction options.
type Config struct {
	Host           string
	Port           int
	MaxRecvMsgSize int
	MaxSendMsgSize int
	Pool           *pool.Pool
	Tracer         trace.Tracer
	Logger         *slog.Logger
}

// NewServer builds a Server listening on cfg.Host:cfg.Port, with a
// recovery/logging/tracing interceptor chain and the standard health
// service registered. Port 0 is a valid caller choice only in tests;
// RegisterGRPCHealthServer in cmd/server treats GRPCHealthPort<=0 as
// "disabled" and never calls this constructor.
func NewServer(cfg Config) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	loggingOpts := []grpc_logging.Option{
		grpc_logging.WithLogOnEvents(grpc_logging.StartCall, grpc_logging.FinishCall),
	}
	recoveryOpts := []grpc_recovery.Option{
		grpc_recovery.WithRecoveryHandler(func(p any) error {
			cfg.Logger.Error("grpc panic recovered", slog.Any("panic", p))
			return status.Errorf(codes.Internal, "internal server error")
		}),
	}

	unaryInterceptors := []grpc.UnaryServerInterceptor{
		grpc_recovery.UnaryServerInterceptor(recoveryOpts...),
		grpc_logging.UnaryServerInterceptor(interceptorLogger(cfg.Logger), loggingOpts...),
		tracingUnaryInterceptor(cfg.Tracer),
		errorTranslationUnaryInterceptor(),
	}

	server := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
		grpc.ChainUnaryInterceptor(unaryInterceptors...),
	)

	grpc_health_v1.RegisterHealthServer(server, newHealthServer(cfg.Pool))
	reflection.Register(server)

	return &Server{server: server, listener: listener, logger: cfg.Logger}, nil
}

// Start blocks serving until the listener is closed by Stop.
func (s *Server) Start() error {
	s.logger.Info("starting gateway grpc health server", slog.String("address", s.listener.Addr().String()))
	return s.server.Serve(s.listener)
}

// Stop gracefully drains in-flight RPCs, forcing a hard stop if ctx expires
// first.
func (s *Server) Stop(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}

// Register wires Server into an fx lifecycle: started in the background on
// OnStart, gracefully stopped on OnStop.
func Register(lc fx.Lifecycle, server *Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.Start(); err != nil && err != grpc.ErrServerStopped {
					server.logger.Error("gateway grpc health server error", slog.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Stop(ctx)
		},
	})
}

func interceptorLogger(l *slog.Logger) grpc_logging.Logger {
	return grpc_logging.LoggerFunc(func(ctx context.Context, lvl grpc_logging.Level, msg string, fields ...any) {
		switch lvl {
		case grpc_logging.LevelDebug:
			l.DebugContext(ctx, msg, fields...)
		case grpc_logging.LevelWarn:
			l.WarnContext(ctx, msg, fields...)
		case grpc_logging.LevelError:
			l.ErrorContext(ctx, msg, fields...)
		default:
			l.InfoContext(ctx, msg, fields...)
		}
	})
}

func tracingUnaryInterceptor(tracer trace.Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if tracer == nil {
			return handler(ctx, req)
		}
		ctx, span := tracer.Start(ctx, info.FullMethod)
		defer span.End()

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		return resp, err
	}
}

// errorTranslationUnaryInterceptor converts any *domain.GatewayError a
// handler returns into its mapped gRPC status, so handlers here can work
// in the gateway's own error type rather than hand-rolling status codes.
func errorTranslationUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		return resp, grpcerrors.ToGRPCError(err)
	}
}
