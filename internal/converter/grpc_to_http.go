package converter

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
)

// StatusToHTTP maps a gRPC status code to the HTTP status the client sees.
// This mapping is exhaustive over codes.Code's defined values.
func StatusToHTTP(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Cancelled:
		return http.StatusRequestTimeout
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.Unknown, codes.Internal, codes.DataLoss:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// responseHeaderKeys lists the upstream metadata keys propagated back onto
// the HTTP response, beyond content-type and x-trace-id which the
// dispatcher sets explicitly from the request's own trace context.
var responseHeaderKeys = []string{"tracestate", "traceparent", "x-correlation-id", "x-request-id"}

// GRPCToHTTP builds the HTTP response headers for a completed upstream
// call: JSON content type, the resolved trace ID, and any of
// responseHeaderKeys present in the upstream's trailing/header metadata.
// The response body is the gRPC payload bytes, forwarded verbatim.
func GRPCToHTTP(w http.ResponseWriter, traceID string, upstreamMD metadata.MD, statusCode int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	if traceID != "" {
		w.Header().Set("X-Trace-Id", traceID)
	}
	for _, k := range responseHeaderKeys {
		if vals := upstreamMD.Get(k); len(vals) > 0 {
			w.Header().Set(k, vals[0])
		}
	}
	w.WriteHeader(statusCode)
	if len(payload) > 0 {
		_, _ = w.Write(payload)
	}
}
