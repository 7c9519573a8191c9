package handlers

import (
	"errors"
	"net/http"

	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, scanerrors.ErrUnknownScanID), errors.Is(err, scanerrors.ErrUnknownFinding):
		return http.StatusNotFound
	case errors.Is(err, scanerrors.ErrInvalidRequest), errors.Is(err, scanerrors.ErrUnknownTool):
		return http.StatusBadRequest
	case errors.Is(err, scanerrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, scanerrors.ErrAnalyzerUnreachable), errors.Is(err, scanerrors.ErrAnalyzerMalformed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps service errors onto status codes. Internal errors are
// logged and never echoed to the client.
func writeError(c *gin.Context, log *logger.Logger, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithFields(logger.Fields{"error": err, "path": c.FullPath()}).Error(msg)
		c.JSON(status, ErrorResponse{Error: msg})
		return
	}
	log.WithFields(logger.Fields{"error": err, "path": c.FullPath()}).Warn(msg)
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
