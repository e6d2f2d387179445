package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/postyhq/rewardguard/internal/services"
)

// AdminHandler serves the operator endpoints behind admin auth.
type AdminHandler struct {
	reports *services.ReportService
	alerts  *services.AlertService
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(reports *services.ReportService, alerts *services.AlertService) *AdminHandler {
	return &AdminHandler{reports: reports, alerts: alerts}
}

// RegisterRoutes registers admin routes on an already-authenticated group.
func (h *AdminHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/security/stats", h.Stats)
	router.GET("/security/reports/:date", h.Report)
	router.GET("/alerts", h.Alerts)
	router.PUT("/alerts/:id/resolve", h.ResolveAlert)
}

// Stats returns the trailing-week security statistics.
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.reports.Statistics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Report returns the persisted daily report for a date (YYYY-MM-DD).
func (h *AdminHandler) Report(c *gin.Context) {
	report, err := h.reports.Report(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report for date"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// Alerts lists unresolved operator alerts.
func (h *AdminHandler) Alerts(c *gin.Context) {
	alerts, err := h.alerts.Unresolved()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, alerts)
}

// ResolveAlert marks an alert handled.
func (h *AdminHandler) ResolveAlert(c *gin.Context) {
	if err := h.alerts.Resolve(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"resolved": true})
}
