package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReadinessProbe checks one dependency. Name appears in the readiness reply.
type ReadinessProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	probes []ReadinessProbe
}

// NewHealthHandler wires the handler with its dependency probes.
func NewHealthHandler(probes ...ReadinessProbe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

// Health serves GET /health: process liveness only.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready serves GET /ready: every dependency probe must pass.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.probes))
	healthy := true
	for _, probe := range h.probes {
		if err := probe.Check(ctx); err != nil {
			checks[probe.Name] = err.Error()
			healthy = false
			continue
		}
		checks[probe.Name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"checks": checks})
}
