package handlers

import (
	"net/http"

	"scanpilot/internal/models"
	"scanpilot/internal/services"
	"scanpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ScanHandler struct {
	scanService services.ScanServiceMethods
	logger      *logger.Logger
}

func NewScanHandler(scanService services.ScanServiceMethods, log *logger.Logger) *ScanHandler {
	return &ScanHandler{scanService: scanService, logger: log}
}

func (h *ScanHandler) ListScans(c *gin.Context) {
	scans := h.scanService.ListScans()
	if scans == nil {
		scans = []*models.Scan{}
	}
	c.JSON(http.StatusOK, ScansResponse{Scans: scans})
}

func (h *ScanHandler) GetScan(c *gin.Context) {
	scan, err := h.scanService.GetScan(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to get scan", err)
		return
	}
	c.JSON(http.StatusOK, scan)
}

func (h *ScanHandler) StartScan(c *gin.Context) {
	var req StartScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithFields(logger.Fields{"error": err}).Warn("Failed to bind scan request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload"})
		return
	}

	scan, err := h.scanService.StartScan(c.Request.Context(), req.Target, req.Tools)
	if err != nil {
		writeError(c, h.logger, "Failed to start scan", err)
		return
	}
	c.JSON(http.StatusOK, ScanResponse{Scan: scan})
}

func (h *ScanHandler) CancelScan(c *gin.Context) {
	cancelled, err := h.scanService.CancelScan(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to cancel scan", err)
		return
	}
	c.JSON(http.StatusOK, CancelResponse{Cancelled: cancelled})
}

func (h *ScanHandler) ListFindings(c *gin.Context) {
	findings, err := h.scanService.ListFindings(c.Query("scanId"))
	if err != nil {
		writeError(c, h.logger, "Failed to list findings", err)
		return
	}
	if findings == nil {
		findings = []*models.Finding{}
	}
	c.JSON(http.StatusOK, FindingsResponse{Findings: findings})
}

func (h *ScanHandler) UpdateFinding(c *gin.Context) {
	var req UpdateFindingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload"})
		return
	}

	finding, err := h.scanService.UpdateFindingStatus(c.Param("id"), req.Status)
	if err != nil {
		writeError(c, h.logger, "Failed to update finding", err)
		return
	}
	c.JSON(http.StatusOK, FindingResponse{Finding: finding})
}

func (h *ScanHandler) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, ToolsResponse{Tools: h.scanService.Tools()})
}
