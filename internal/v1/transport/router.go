package transport

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshplay/signaling/internal/v1/config"
	"github.com/meshplay/signaling/internal/v1/health"
)

// NewRouter wires the full HTTP surface: the WebSocket endpoint, health and
// readiness probes, and the Prometheus scrape endpoints.
func NewRouter(hub *Hub, h *health.Handler, cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Security.CorsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	router.GET("/v2/ws", hub.ServeWs)
	router.GET("/v2/health", h.Healthz)
	router.GET("/v2/ready", h.Readyz)

	prom := gin.WrapH(promhttp.Handler())
	router.GET("/metrics", prom)
	router.GET("/metrics/prom", prom)

	return router
}
