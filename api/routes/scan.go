package routes

import (
	"scanpilot/internal/handlers"

	"github.com/gin-gonic/gin"
)

func InitScanRoutes(router *gin.RouterGroup, h *handlers.ScanHandler) {
	scanRoutes := router.Group("/scans")
	{
		scanRoutes.GET("", h.ListScans)
		scanRoutes.POST("/start", h.StartScan)
		scanRoutes.GET("/:id", h.GetScan)
		scanRoutes.POST("/:id/cancel", h.CancelScan)
	}

	findingRoutes := router.Group("/findings")
	{
		findingRoutes.GET("", h.ListFindings)
		findingRoutes.PATCH("/:id", h.UpdateFinding)
	}

	router.GET("/tools", h.ListTools)
}

func InitChatRoutes(router *gin.RouterGroup, h *handlers.ChatHandler) {
	router.POST("/chat", h.Ask)
}
