package http

import (
	"encoding/json"
	"net/http"

	"github.com/auth-platform/api-gateway/internal/authgate"
	"github.com/auth-platform/api-gateway/internal/controlloop"
	"github.com/auth-platform/api-gateway/internal/dispatcher"
	"github.com/auth-platform/api-gateway/internal/domain"
)

// adminHandler serves POST /admin/refresh-routes, gated by a static bearer
// token rather than the per-route auth gate: this endpoint forces discovery
// ahead of any particular upstream route, so it has no (service, grpcMethod)
// pair to hand authgate.Gate.Authorize.
type adminHandler struct {
	loop       *controlloop.Loop
	adminToken string
}

func newAdminHandler(loop *controlloop.Loop, adminToken string) *adminHandler {
	return &adminHandler{loop: loop, adminToken: adminToken}
}

func (h *adminHandler) refreshRoutes(w http.ResponseWriter, r *http.Request) {
	traceID := r.Header.Get("X-Trace-Id")

	if h.adminToken == "" {
		dispatcher.WriteError(w, traceID, domain.NewGatewayError(domain.ErrInsufficientPerms, "admin surface is disabled: no admin token configured"))
		return
	}

	token, ok := authgate.ExtractToken(r)
	if !ok || token != h.adminToken {
		dispatcher.WriteError(w, traceID, domain.NewGatewayError(domain.ErrInvalidToken, "invalid or missing admin token"))
		return
	}

	result := h.loop.Refresh(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !result.Success {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(result)
}
