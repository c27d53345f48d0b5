// Package health serves the liveness and readiness probes.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meshplay/signaling/internal/v1/registry"
	"github.com/meshplay/signaling/internal/v1/session"
)

// Handler answers /v2/health and /v2/ready.
type Handler struct {
	registry  *registry.Registry
	manager   *session.Manager
	startedAt time.Time
}

// NewHandler creates a Handler reporting on the given collaborators.
func NewHandler(reg *registry.Registry, mgr *session.Manager) *Handler {
	return &Handler{
		registry:  reg,
		manager:   mgr,
		startedAt: time.Now(),
	}
}

// Healthz is the liveness probe: 200 to any GET while the process runs.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Readyz is the readiness probe, reporting current load alongside status.
func (h *Handler) Readyz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"rooms":    h.registry.RoomCount(),
		"sessions": h.manager.Count(),
	})
}
