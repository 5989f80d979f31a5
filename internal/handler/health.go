package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger is any dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	service string
	deps    map[string]Pinger
}

func NewHealthHandler(service string, deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{service: service, deps: deps}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   h.service,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": name + " unavailable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": h.service})
}
