package handlers

import (
	"scanpilot/internal/models"
	"scanpilot/pkg/tools"
)

type StartScanRequest struct {
	Target string   `json:"target" binding:"required"`
	Tools  []string `json:"tools" binding:"required"`
}

type ScanResponse struct {
	Scan *models.Scan `json:"scan"`
}

type ScansResponse struct {
	Scans []*models.Scan `json:"scans"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type FindingsResponse struct {
	Findings []*models.Finding `json:"findings"`
}

type UpdateFindingRequest struct {
	Status string `json:"status" binding:"required"`
}

type FindingResponse struct {
	Finding *models.Finding `json:"finding"`
}

type ChatRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	ScanID string `json:"scanId"`
}

type ChatResponse struct {
	Message *models.ChatMessage `json:"message"`
}

type ToolsResponse struct {
	Tools []tools.Definition `json:"tools"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
