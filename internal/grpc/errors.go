// Package grpc translates the gateway's own domain.GatewayError into gRPC
// statuses, for the RPCs the gateway itself serves (health) rather than
// proxies.
package grpc

import (
	"errors"

	"github.com/auth-platform/api-gateway/internal/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorMapping maps internal error codes to gRPC status codes.
var ErrorMapping = map[domain.ErrorCode]codes.Code{
	domain.ErrCircuitOpen:            codes.Unavailable,
	domain.ErrRateLimitExceeded:      codes.ResourceExhausted,
	domain.ErrTimeout:                codes.DeadlineExceeded,
	domain.ErrRetryExhausted:         codes.Unavailable,
	domain.ErrBulkheadFull:           codes.ResourceExhausted,
	domain.ErrInvalidPolicy:          codes.InvalidArgument,
	domain.ErrServiceUnavailable:     codes.Unavailable,
	domain.ErrRouteNotFound:          codes.NotFound,
	domain.ErrMissingToken:           codes.Unauthenticated,
	domain.ErrInvalidToken:           codes.Unauthenticated,
	domain.ErrExpiredToken:           codes.Unauthenticated,
	domain.ErrInsufficientPerms:      codes.PermissionDenied,
	domain.ErrAuthServiceUnavailable: codes.Unavailable,
	domain.ErrMalformedRequest:       codes.InvalidArgument,
	domain.ErrBodyTooLarge:           codes.InvalidArgument,
	domain.ErrUpstreamBadResponse:    codes.Internal,
}

// ToGRPCError converts a domain error to a gRPC status error. Any error
// that isn't a *domain.GatewayError (including nil) passes through as-is,
// or as an internal status if it isn't already one.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *domain.GatewayError
	if errors.As(err, &gerr) {
		return status.New(ToGRPCCode(gerr.Code), gerr.Error()).Err()
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	return status.Error(codes.Internal, err.Error())
}

// ToGRPCCode returns the gRPC code for a domain error code.
func ToGRPCCode(code domain.ErrorCode) codes.Code {
	if grpcCode, ok := ErrorMapping[code]; ok {
		return grpcCode
	}
	return codes.Internal
}

// FromGRPCCode returns the domain error code for a gRPC code.
func FromGRPCCode(code codes.Code) domain.ErrorCode {
	for domainCode, grpcCode := range ErrorMapping {
		if grpcCode == code {
			return domainCode
		}
	}
	return domain.ErrServiceUnavailable
}
