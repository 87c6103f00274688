// Package converter translates between the gateway's HTTP/JSON surface and
// the gRPC wire: request bodies, path parameters, and the trace/auth
// metadata that rides alongside every call in both directions.
package converter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/auth-platform/api-gateway/internal/domain"
	"google.golang.org/grpc/metadata"
)

// propagateHeaders lists the inbound HTTP headers forwarded as outgoing
// gRPC metadata verbatim.
var propagateHeaders = []string{
	"x-trace-id", "x-span-id", "x-parent-span-id", "x-request-id",
	"x-correlation-id", "traceparent", "tracestate", "user-agent",
	"x-forwarded-for", "x-real-ip",
}

// HTTPToGRPC reads r's body (bounded by maxBodyBytes), merges pathParams
// into it as top-level string fields, and builds the outgoing gRPC
// metadata from the propagate-list headers plus authMetadata (the
// `_auth_*` pairs attached by the auth gate, if any).
func HTTPToGRPC(r *http.Request, pathParams map[string]string, authMetadata map[string]string, maxBodyBytes int64) ([]byte, metadata.MD, error) {
	body, err := readBoundedBody(r, maxBodyBytes)
	if err != nil {
		return nil, nil, err
	}

	payload, err := mergePathParams(body, pathParams)
	if err != nil {
		return nil, nil, domain.NewGatewayError(domain.ErrMalformedRequest, "request body is not valid JSON").WithCause(err)
	}

	md := metadata.MD{}
	for _, h := range propagateHeaders {
		if v := r.Header.Get(h); v != "" {
			md.Set(h, v)
		}
	}
	for k, v := range authMetadata {
		md.Set(k, v)
	}

	return payload, md, nil
}

func readBoundedBody(r *http.Request, maxBodyBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	limited := io.LimitReader(r.Body, maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, domain.NewGatewayError(domain.ErrMalformedRequest, "failed to read request body").WithCause(err)
	}
	if int64(len(body)) > maxBodyBytes {
		return nil, domain.NewGatewayError(domain.ErrBodyTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
	}
	return body, nil
}

// mergePathParams merges pathParams into body as top-level string fields.
// If there are no path params, body is returned unmodified (including the
// empty case, so a bodyless GET with no dynamic segments forwards truly
// empty bytes). If there are path params, the body (or {} if empty) is
// parsed as a JSON object and the params are merged in, producing a JSON
// object payload even for an originally empty body.
func mergePathParams(body []byte, pathParams map[string]string) ([]byte, error) {
	if len(pathParams) == 0 {
		return body, nil
	}

	base := body
	if len(base) == 0 {
		base = []byte("{}")
	}

	var obj map[string]any
	if err := json.Unmarshal(base, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = make(map[string]any, len(pathParams))
	}
	for k, v := range pathParams {
		obj[k] = v
	}
	return json.Marshal(obj)
}
