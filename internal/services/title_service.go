package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/models"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TitleService assigns a conversation title from its first user message.
// Fire-and-forget: it runs detached from the request and swallows failures.
type TitleService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewTitleService(db *gorm.DB, logger *zap.Logger) *TitleService {
	return &TitleService{db: db, logger: logger}
}

func (s *TitleService) GenerateTitle(client *llm.Client, model string, convID uuid.UUID, firstMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Complete(ctx, model, []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Generate a short title (at most 6 words) for a conversation that starts with the given message. Reply with the title only, no quotes.",
		},
		{Role: openai.ChatMessageRoleUser, Content: firstMessage},
	}, 0.3)
	if err != nil {
		s.logger.Debug("title generation failed", zap.Error(err))
		return
	}

	title := cleanTitle(resp)
	if title == "" {
		return
	}

	if err := s.db.Model(&models.Conversation{}).
		Where("id = ?", convID).
		Update("title", title).Error; err != nil {
		s.logger.Debug("title update failed", zap.Error(err))
	}
}

// cleanTitle strips quotes and whitespace from a generated title and bounds
// its length.
func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, "\"'")
	title = strings.TrimSpace(title)
	if len(title) > 60 {
		title = title[:60]
	}
	return title
}
