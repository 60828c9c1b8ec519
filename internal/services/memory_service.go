package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/models"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrMemoryFull is returned when a user's fact count has reached the cap.
var ErrMemoryFull = fmt.Errorf("memory is full")

// MemoryService owns the per-user fact store: dedup-on-insert, a per-user
// cap, and the background extraction that mines new facts from finished
// conversations.
type MemoryService struct {
	db         *gorm.DB
	maxFacts   int
	maxFactLen int
	extractMax int
	logger     *zap.Logger
}

func NewMemoryService(db *gorm.DB, maxFacts, maxFactLen, extractMax int, logger *zap.Logger) *MemoryService {
	return &MemoryService{
		db:         db,
		maxFacts:   maxFacts,
		maxFactLen: maxFactLen,
		extractMax: extractMax,
		logger:     logger,
	}
}

// ListFacts returns the user's facts, most recently updated first.
func (s *MemoryService) ListFacts(ctx context.Context, userID uuid.UUID) ([]models.MemoryFact, error) {
	var facts []models.MemoryFact
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load memory facts: %w", err)
	}
	return facts, nil
}

// SaveFact inserts one fact. Returns false without inserting when an
// existing fact matches case-insensitively; duplicates are not an error.
func (s *MemoryService) SaveFact(ctx context.Context, userID uuid.UUID, content string) (bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, fmt.Errorf("fact content is empty")
	}
	if len(content) > s.maxFactLen {
		return false, fmt.Errorf("fact exceeds %d characters", s.maxFactLen)
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.MemoryFact{}).
		Where("user_id = ? AND LOWER(content) = LOWER(?)", userID, content).
		Count(&existing).Error; err != nil {
		return false, fmt.Errorf("failed to check for duplicates: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.MemoryFact{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return false, fmt.Errorf("failed to count facts: %w", err)
	}
	if total >= int64(s.maxFacts) {
		return false, fmt.Errorf("%w (%d facts)", ErrMemoryFull, s.maxFacts)
	}

	fact := models.MemoryFact{UserID: userID, Content: content}
	if err := s.db.WithContext(ctx).Create(&fact).Error; err != nil {
		return false, fmt.Errorf("failed to save fact: %w", err)
	}
	return true, nil
}

// DeleteFact removes one fact, ownership-scoped.
func (s *MemoryService) DeleteFact(ctx context.Context, userID, factID uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", factID, userID).
		Delete(&models.MemoryFact{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete fact: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ExtractAndStore is the best-effort background step run after a completed
// response when auto-memory is on. Every failure mode ends here: nothing
// propagates to the request that spawned it.
func (s *MemoryService) ExtractAndStore(client *llm.Client, model string, userID uuid.UUID, history []models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	facts, err := s.ListFacts(ctx, userID)
	if err != nil {
		s.logger.Warn("memory extraction: failed to load existing facts", zap.Error(err))
		return
	}

	var known strings.Builder
	for _, f := range facts {
		known.WriteString("- " + f.Content + "\n")
	}

	var convo strings.Builder
	turns := history
	if len(turns) > 10 {
		turns = turns[len(turns)-10:]
	}
	for _, m := range turns {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		convo.WriteString(m.Role + ": " + m.Content + "\n")
	}
	if convo.Len() == 0 {
		return
	}

	prompt := fmt.Sprintf(`Extract new personal facts about the user from this conversation.

Rules:
- At most %d facts, each at most 15 words
- Only durable, user-specific facts (preferences, background, circumstances)
- Skip anything already known, and anything not about the user

Already known facts:
%s
Conversation:
%s
Return a JSON object: {"facts": ["fact one", "fact two"]}. Return {"facts": []} if there is nothing new.`,
		s.extractMax, known.String(), convo.String())

	resp, err := client.Complete(ctx, model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, 0.2)
	if err != nil {
		s.logger.Warn("memory extraction: provider call failed", zap.Error(err))
		return
	}

	extracted := parseExtractedFacts(resp)
	if len(extracted) > s.extractMax {
		extracted = extracted[:s.extractMax]
	}
	for _, fact := range extracted {
		if _, err := s.SaveFact(ctx, userID, fact); err != nil {
			s.logger.Debug("memory extraction: fact not saved", zap.String("fact", fact), zap.Error(err))
		}
	}
}

// parseExtractedFacts tolerates the handful of shapes models actually emit:
// {"facts": [...]}, {"new_facts": [...]}, a bare array, and fenced JSON.
func parseExtractedFacts(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var wrapped struct {
		Facts    []string `json:"facts"`
		NewFacts []string `json:"new_facts"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
		if len(wrapped.Facts) > 0 {
			return cleanFacts(wrapped.Facts)
		}
		if len(wrapped.NewFacts) > 0 {
			return cleanFacts(wrapped.NewFacts)
		}
	}

	var bare []string
	if err := json.Unmarshal([]byte(raw), &bare); err == nil {
		return cleanFacts(bare)
	}
	return nil
}

func cleanFacts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, f := range in {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
