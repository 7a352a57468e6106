package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")

	// Feature chat
	api.GET("/projects/:project/feature-chat/ws", h.FeatureChatWebSocket)
	api.GET("/projects/:project/feature-chat", h.GetFeatureChat)
	api.DELETE("/projects/:project/feature-chat", h.ResetFeatureChat)

	// Features
	api.GET("/projects/:project/features", h.ListFeatures)
	api.GET("/projects/:project/features/:id", h.GetFeature)
	api.DELETE("/projects/:project/features/:id", h.DeleteFeature)

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
