package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aguacachat-sync/internal/session"
	"aguacachat-sync/internal/telemetry"
)

// RegisterRoutes wires the engine's observation surface: metrics, health
// and debug-only introspection endpoints.
func RegisterRoutes(router *gin.Engine, ctrl *session.Controller, notifier *telemetry.Notifier, debug bool) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if !debug {
		return
	}

	router.GET("/debug/session", func(c *gin.Context) {
		snapshot := gin.H{
			"state":     ctrl.State(),
			"messages":  len(ctrl.Messages()),
			"has_more":  ctrl.HasMoreOlder(),
			"summaries": len(ctrl.Summaries()),
			"gating":    ctrl.Gating(),
		}
		if conv, ok := ctrl.Conversation(); ok {
			snapshot["conversation_id"] = conv.ID
		}
		c.JSON(http.StatusOK, snapshot)
	})

	router.GET("/debug/messages", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Messages())
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if notifier == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit notifier not configured"})
			return
		}
		notifier.Notify(c.Request.Context(), "INFO", "audit test", nil)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
