package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Chat modes.
const (
	ModeNormal       = "normal"
	ModeThinking     = "thinking"
	ModeDeepResearch = "deep_research"
)

// EffectiveSettings is the per-user settings map resolved against defaults,
// with secrets already folded in from the server-level fallbacks.
type EffectiveSettings struct {
	Model              string
	Provider           string
	Temperature        float32
	MemoryEnabled      bool
	AutoMemoryEnabled  bool
	SystemPrompt       string
	CustomInstructions string
	OpenAIAPIKey       string
	TavilyAPIKey       string
	ChatMode           string
}

type SettingsService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewSettingsService(db *gorm.DB, cfg *config.Config) *SettingsService {
	return &SettingsService{db: db, cfg: cfg}
}

// Raw returns the user's stored key/value map, unresolved.
func (s *SettingsService) Raw(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Set upserts one setting. Unknown keys are rejected.
func (s *SettingsService) Set(ctx context.Context, userID uuid.UUID, key, value string) error {
	known := false
	for _, k := range models.KnownSettingKeys() {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown setting key %q", key)
	}
	row := models.Setting{UserID: userID, Key: key, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// Resolve applies documented defaults and server-level credential fallbacks.
func (s *SettingsService) Resolve(ctx context.Context, userID uuid.UUID) (*EffectiveSettings, error) {
	raw, err := s.Raw(ctx, userID)
	if err != nil {
		return nil, err
	}

	get := func(key, fallback string) string {
		if v, ok := raw[key]; ok && v != "" {
			return v
		}
		return fallback
	}

	eff := &EffectiveSettings{
		Model:              get(models.SettingModel, s.cfg.DefaultModel),
		Provider:           get(models.SettingProvider, "openai"),
		Temperature:        0.7,
		MemoryEnabled:      parseBool(get(models.SettingMemoryEnabled, "true")),
		AutoMemoryEnabled:  parseBool(get(models.SettingAutoMemoryEnabled, "true")),
		SystemPrompt:       get(models.SettingSystemPrompt, ""),
		CustomInstructions: get(models.SettingCustomInstructions, ""),
		OpenAIAPIKey:       get(models.SettingOpenAIAPIKey, s.cfg.OpenAIAPIKey),
		TavilyAPIKey:       get(models.SettingTavilyAPIKey, s.cfg.TavilyAPIKey),
		ChatMode:           get(models.SettingChatMode, ModeNormal),
	}

	if t, err := strconv.ParseFloat(get(models.SettingTemperature, ""), 32); err == nil {
		eff.Temperature = float32(t)
	}

	switch eff.ChatMode {
	case ModeNormal, ModeThinking, ModeDeepResearch:
	default:
		eff.ChatMode = ModeNormal
	}

	return eff, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
