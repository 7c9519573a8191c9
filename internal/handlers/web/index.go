package web

import (
	"net/http"

	"scanpilot/internal/services"
	"scanpilot/pkg/logger"
	"scanpilot/templates"

	"github.com/gin-gonic/gin"
)

type IndexHandler struct {
	scanService services.ScanServiceMethods
	logger      *logger.Logger
}

func NewIndexHandler(scanService services.ScanServiceMethods, log *logger.Logger) *IndexHandler {
	return &IndexHandler{scanService: scanService, logger: log}
}

func (h *IndexHandler) HomePage(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := templates.Dashboard(h.scanService.ListScans()).Render(c.Request.Context(), c.Writer); err != nil {
		h.logger.WithFields(logger.Fields{"error": err}).Error("Failed to render dashboard")
	}
}

func (h *IndexHandler) ScanDetailPage(c *gin.Context) {
	scanID := c.Param("id")
	scan, err := h.scanService.GetScan(scanID)
	if err != nil {
		h.logger.WithFields(logger.Fields{"scan_id": scanID, "error": err}).Warn("Scan not found")
		c.Status(http.StatusNotFound)
		return
	}

	findings, err := h.scanService.ListFindings(scanID)
	if err != nil {
		h.logger.WithFields(logger.Fields{"scan_id": scanID, "error": err}).Error("Failed to load findings")
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := templates.ScanDetail(scan, findings).Render(c.Request.Context(), c.Writer); err != nil {
		h.logger.WithFields(logger.Fields{"scan_id": scanID, "error": err}).Error("Failed to render scan detail page")
	}
}
