package models

import (
	"time"

	"github.com/google/uuid"
)

// Known setting keys. Anything outside this set is rejected at the API layer.
const (
	SettingModel              = "model"
	SettingProvider           = "provider"
	SettingTemperature        = "temperature"
	SettingMemoryEnabled      = "memory_enabled"
	SettingAutoMemoryEnabled  = "auto_memory_enabled"
	SettingSystemPrompt       = "system_prompt"
	SettingCustomInstructions = "custom_instructions"
	SettingOpenAIAPIKey       = "openai_api_key"
	SettingTavilyAPIKey       = "tavily_api_key"
	SettingChatMode           = "chat_mode"
)

func KnownSettingKeys() []string {
	return []string{
		SettingModel,
		SettingProvider,
		SettingTemperature,
		SettingMemoryEnabled,
		SettingAutoMemoryEnabled,
		SettingSystemPrompt,
		SettingCustomInstructions,
		SettingOpenAIAPIKey,
		SettingTavilyAPIKey,
		SettingChatMode,
	}
}

// SecretSettingKeys are never returned in cleartext; the API reports a
// boolean "is set" flag instead.
func SecretSettingKeys() []string {
	return []string{SettingOpenAIAPIKey, SettingTavilyAPIKey}
}

type Setting struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
