package approuters

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ifindlife/internal/configuration"
)

// MonitorRouters sets up monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorGroup := router.Group("/api/monitor")
	{
		// GET /api/monitor/stats - hub and call statistics
		monitorGroup.GET("/stats", container.MonitorHandler.GetHubStats)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(container.Registry, promhttp.HandlerOpts{})))
}
