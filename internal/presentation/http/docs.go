package http

import (
	"encoding/json"
	"net/http"

	"github.com/auth-platform/api-gateway/internal/routetable"
)

// docsRoute is one entry in the /docs index.
type docsRoute struct {
	HTTPMethod string `json:"http_method"`
	Path       string `json:"path"`
	Upstream   string `json:"upstream"`
	Service    string `json:"service"`
	Method     string `json:"method"`
}

type docsResponse struct {
	Routes []docsRoute `json:"routes"`
}

// docsHandler serves a fixed JSON index of the routes currently discovered,
// in lieu of a generated docs UI. It reads the live snapshot directly, so
// it's always in sync with the last successful discovery pass without
// needing its own refresh hook.
type docsHandler struct {
	routes *routetable.Snapshot
}

func newDocsHandler(routes *routetable.Snapshot) *docsHandler {
	return &docsHandler{routes: routes}
}

func (h *docsHandler) index(w http.ResponseWriter, r *http.Request) {
	entries := h.routes.Load().Entries()
	resp := docsResponse{Routes: make([]docsRoute, 0, len(entries))}
	for _, e := range entries {
		resp.Routes = append(resp.Routes, docsRoute{
			HTTPMethod: e.Method.HTTPMethod,
			Path:       e.Method.PathPattern,
			Upstream:   e.Upstream,
			Service:    e.Method.Service,
			Method:     e.Method.Method,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
