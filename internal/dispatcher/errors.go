package dispatcher

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/auth-platform/api-gateway/internal/domain"
)

// errorBody is the client-facing error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

// gatewayErrorStatus maps a domain.ErrorCode to the HTTP status the
// top-level handler returns for it. Codes not listed fall back to 500.
var gatewayErrorStatus = map[domain.ErrorCode]int{
	domain.ErrRouteNotFound:          http.StatusNotFound,
	domain.ErrRateLimitExceeded:      http.StatusTooManyRequests,
	domain.ErrCircuitOpen:            http.StatusServiceUnavailable,
	domain.ErrMissingToken:           http.StatusUnauthorized,
	domain.ErrInvalidToken:           http.StatusUnauthorized,
	domain.ErrExpiredToken:           http.StatusUnauthorized,
	domain.ErrInsufficientPerms:      http.StatusForbidden,
	domain.ErrAuthServiceUnavailable: http.StatusServiceUnavailable,
	domain.ErrMalformedRequest:       http.StatusBadRequest,
	domain.ErrBodyTooLarge:           http.StatusRequestEntityTooLarge,
	domain.ErrUpstreamBadResponse:    http.StatusBadGateway,
	domain.ErrTimeout:                http.StatusGatewayTimeout,
	domain.ErrInternal:               http.StatusInternalServerError,
	domain.ErrRetryExhausted:         http.StatusServiceUnavailable,
	domain.ErrBulkheadFull:           http.StatusServiceUnavailable,
	domain.ErrInvalidPolicy:          http.StatusInternalServerError,
	domain.ErrServiceUnavailable:     http.StatusServiceUnavailable,
}

// upstreamError carries an HTTP status already resolved from the gRPC
// status table (§4.7), for upstream call failures that reached a real
// backend rather than being rejected by the gateway's own pipeline.
type upstreamError struct {
	httpStatus int
	service    string
	message    string
}

func (e *upstreamError) Error() string { return e.message }

// WriteError is writeError exported for the presentation layer's locally
// served routes (admin, health) to reuse the same error envelope the
// dispatcher writes for pipeline errors.
func WriteError(w http.ResponseWriter, traceID string, err error) {
	writeError(w, traceID, err)
}

// writeError maps err to an HTTP status and the error envelope from §6,
// then writes it. A plain (non-GatewayError, non-upstreamError) err is
// treated as internal.
func writeError(w http.ResponseWriter, traceID string, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := err.Error()

	var uerr *upstreamError
	var gerr *domain.GatewayError
	switch {
	case errors.As(err, &uerr):
		status = uerr.httpStatus
		code = "BACKEND_ERROR"
		message = uerr.message
	case errors.As(err, &gerr):
		code = strings.ToUpper(string(gerr.Code))
		message = gerr.Message
		if s, ok := gatewayErrorStatus[gerr.Code]; ok {
			status = s
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if traceID != "" {
		w.Header().Set("X-Trace-Id", traceID)
	}
	w.WriteHeader(status)

	body := errorBody{Error: errorDetail{
		Code:    code,
		Message: message,
		TraceID: traceID,
	}}
	_ = json.NewEncoder(w).Encode(body)
}
