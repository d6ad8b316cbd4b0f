package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clipmerge/config"
	"clipmerge/task"
)

func SetupRouter(tm *task.Manager, thumbs Thumbnailer, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))
	h := NewHandler(tm, thumbs, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/probe", h.handleProbe)

		v1.POST("/exports", h.handleCreateExport)
		v1.GET("/exports", h.handleListExports)
		v1.GET("/exports/:exportId", h.handleGetExport)
		v1.GET("/exports/:exportId/events", h.handleExportEvents)
		v1.PATCH("/exports/:exportId/cancel", h.handleCancelExport)

		v1.GET("/thumbnail", h.handleThumbnail)
	}
	return r
}
