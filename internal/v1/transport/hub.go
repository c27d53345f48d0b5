// Package transport exposes the HTTP surface: the WebSocket upgrade at
// /v2/ws, origin validation, and the router wiring for health and metrics
// endpoints.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/logging"
	"github.com/meshplay/signaling/internal/v1/protocol"
	"github.com/meshplay/signaling/internal/v1/session"
)

// Hub accepts WebSocket upgrades and hands the resulting connections to the
// session manager.
type Hub struct {
	manager  *session.Manager
	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewHub creates a Hub bound to the session manager.
func NewHub(manager *session.Manager, cfg *config.Config) *Hub {
	h := &Hub{manager: manager, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, cfg.Security.CorsOrigins) == nil
		},
	}
	return h
}

// ServeWs validates the origin, upgrades the connection, and attaches it.
func (h *Hub) ServeWs(c *gin.Context) {
	if err := validateOrigin(c.Request, h.cfg.Security.CorsOrigins); err != nil {
		logging.Warn(c.Request.Context(), "Rejected WebSocket origin", zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade writes its own HTTP error response.
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	if _, err := h.manager.Attach(conn, c.ClientIP()); err != nil {
		// The handshake already succeeded; refuse on the socket.
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, protocol.ErrorCode(err))
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
		logging.Warn(context.Background(), "Refused WebSocket attachment",
			zap.String("remoteIp", c.ClientIP()), zap.Error(err))
	}
}
