package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/auth-platform/api-gateway/internal/pool"
)

// readinessTimeout bounds how long the readiness probe waits on the slowest
// upstream before deciding it isn't ready.
const readinessTimeout = 2 * time.Second

// healthStatus is the per-service and overall status string in /health/ready
// responses.
type healthStatus string

const (
	statusHealthy   healthStatus = "healthy"
	statusUnhealthy healthStatus = "unhealthy"
)

// healthHandler serves the gateway's own liveness and upstream-readiness
// probes. Liveness never touches the network: the process answering at all
// is the only thing it asserts. Readiness fans pool.HealthCheck out across
// every registered upstream concurrently, capped at readinessTimeout.
type healthHandler struct {
	pool *pool.Pool
}

func newHealthHandler(p *pool.Pool) *healthHandler {
	return &healthHandler{pool: p}
}

type livenessResponse struct {
	Status healthStatus `json:"status"`
}

func (h *healthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(livenessResponse{Status: statusHealthy})
}

type readinessResponse struct {
	Status   healthStatus            `json:"status"`
	Services map[string]healthStatus `json:"services"`
}

func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	services := h.pool.Services()
	resp := readinessResponse{Status: statusHealthy, Services: make(map[string]healthStatus, len(services))}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range services {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			ok := h.pool.HealthCheck(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if ok {
				resp.Services[name] = statusHealthy
			} else {
				resp.Services[name] = statusUnhealthy
				resp.Status = statusUnhealthy
			}
		}(name)
	}
	wg.Wait()

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != statusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
