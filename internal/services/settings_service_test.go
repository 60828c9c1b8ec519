package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSettingsService(t *testing.T) *SettingsService {
	cfg := &config.Config{
		DefaultModel: "gpt-4o",
		OpenAIAPIKey: "server-openai-key",
		TavilyAPIKey: "",
	}
	return NewSettingsService(testDB(t), cfg)
}

func TestSetRejectsUnknownKey(t *testing.T) {
	svc := newTestSettingsService(t)
	err := svc.Set(context.Background(), uuid.New(), "favorite_color", "blue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown setting key")
}

func TestSetUpserts(t *testing.T) {
	svc := newTestSettingsService(t)
	userID := uuid.New()
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, userID, models.SettingModel, "gpt-4o-mini"))
	require.NoError(t, svc.Set(ctx, userID, models.SettingModel, "o3-mini"))

	raw, err := svc.Raw(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "o3-mini", raw[models.SettingModel])
	assert.Len(t, raw, 1)
}

func TestResolveDefaults(t *testing.T) {
	svc := newTestSettingsService(t)
	eff, err := svc.Resolve(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", eff.Model)
	assert.Equal(t, "openai", eff.Provider)
	assert.InDelta(t, 0.7, eff.Temperature, 0.001)
	assert.True(t, eff.MemoryEnabled)
	assert.True(t, eff.AutoMemoryEnabled)
	assert.Equal(t, ModeNormal, eff.ChatMode)
	// Server-level credential fallback applies when the user set nothing.
	assert.Equal(t, "server-openai-key", eff.OpenAIAPIKey)
	assert.Empty(t, eff.TavilyAPIKey)
}

func TestResolveUserOverrides(t *testing.T) {
	svc := newTestSettingsService(t)
	userID := uuid.New()
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, userID, models.SettingModel, "o3-mini"))
	require.NoError(t, svc.Set(ctx, userID, models.SettingTemperature, "0.2"))
	require.NoError(t, svc.Set(ctx, userID, models.SettingMemoryEnabled, "false"))
	require.NoError(t, svc.Set(ctx, userID, models.SettingChatMode, ModeDeepResearch))
	require.NoError(t, svc.Set(ctx, userID, models.SettingOpenAIAPIKey, "user-key"))

	eff, err := svc.Resolve(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "o3-mini", eff.Model)
	assert.InDelta(t, 0.2, eff.Temperature, 0.001)
	assert.False(t, eff.MemoryEnabled)
	assert.True(t, eff.AutoMemoryEnabled)
	assert.Equal(t, ModeDeepResearch, eff.ChatMode)
	assert.Equal(t, "user-key", eff.OpenAIAPIKey)
}

func TestResolveInvalidModeFallsBack(t *testing.T) {
	svc := newTestSettingsService(t)
	userID := uuid.New()
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, userID, models.SettingChatMode, "turbo_mode"))
	eff, err := svc.Resolve(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, eff.ChatMode)
}

func TestResolveInvalidTemperatureIgnored(t *testing.T) {
	svc := newTestSettingsService(t)
	userID := uuid.New()
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, userID, models.SettingTemperature, "hot"))
	eff, err := svc.Resolve(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, eff.Temperature, 0.001)
}
