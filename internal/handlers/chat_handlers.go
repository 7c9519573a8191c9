package handlers

import (
	"net/http"

	"scanpilot/internal/services"
	"scanpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService services.ChatServiceMethods
	logger      *logger.Logger
}

func NewChatHandler(chatService services.ChatServiceMethods, log *logger.Logger) *ChatHandler {
	return &ChatHandler{chatService: chatService, logger: log}
}

func (h *ChatHandler) Ask(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload"})
		return
	}

	msg, err := h.chatService.Ask(c.Request.Context(), req.Prompt, req.ScanID)
	if err != nil {
		writeError(c, h.logger, "Failed to answer chat", err)
		return
	}
	c.JSON(http.StatusOK, ChatResponse{Message: msg})
}
