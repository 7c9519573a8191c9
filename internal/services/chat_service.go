package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scanpilot/internal/models"
	"scanpilot/internal/registry"
	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"

	"github.com/google/uuid"
)

type Chatter interface {
	Chat(ctx context.Context, question string, scan *models.Scan) (string, error)
}

type ChatServiceMethods interface {
	Ask(ctx context.Context, prompt, scanID string) (*models.ChatMessage, error)
}

var _ ChatServiceMethods = (*ChatService)(nil)

type ChatService struct {
	chatter  Chatter
	registry *registry.Registry
	logger   *logger.Logger
}

func NewChatService(chatter Chatter, reg *registry.Registry, log *logger.Logger) *ChatService {
	return &ChatService{chatter: chatter, registry: reg, logger: log}
}

// Ask answers a free-text question, grounded in a scan when scanID is set.
func (s *ChatService) Ask(ctx context.Context, prompt, scanID string) (*models.ChatMessage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", scanerrors.ErrInvalidRequest)
	}

	var scan *models.Scan
	if scanID != "" {
		var err error
		scan, err = s.registry.Get(scanID)
		if err != nil {
			return nil, err
		}
	}

	answer, err := s.chatter.Chat(ctx, prompt, scan)
	if err != nil {
		s.logger.WithFields(logger.Fields{"scan_id": scanID, "error": err}).Warn("Chat request failed")
		return nil, err
	}

	now := time.Now()
	return &models.ChatMessage{
		ID:     uuid.New().String(),
		Sender: models.SenderAI,
		Text:   answer,
		Time:   now.Format("15:04"),
		SentAt: now,
	}, nil
}
