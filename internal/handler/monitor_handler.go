package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ifindlife/internal/model"
)

// StatsProvider reports hub and call statistics
type StatsProvider interface {
	GetStats() model.MonitorResponse
}

// MonitorHandler handles monitoring API endpoints
type MonitorHandler interface {
	GetHubStats(c *gin.Context)
}

type monitorHandler struct {
	monitorService StatsProvider
}

// NewMonitorHandler creates a new monitor handler
func NewMonitorHandler(monitorService StatsProvider) MonitorHandler {
	return &monitorHandler{
		monitorService: monitorService,
	}
}

// GetHubStats returns current hub statistics
// @Summary Get WebSocket hub statistics
// @Description Returns connected clients, channel rooms and live participant sessions
// @Tags Monitor
// @Produce json
// @Success 200 {object} model.MonitorResponse
// @Router /api/monitor/stats [get]
func (h *monitorHandler) GetHubStats(c *gin.Context) {
	stats := h.monitorService.GetStats()
	respond(c, http.StatusOK, stats, "Hub statistics retrieved successfully")
}
