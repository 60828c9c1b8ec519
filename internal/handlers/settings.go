package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/loomchat/loom/internal/middleware"
	"github.com/loomchat/loom/internal/models"
	"github.com/loomchat/loom/internal/services"
	"go.uber.org/zap"
)

type SettingsHandler struct {
	settings *services.SettingsService
	logger   *zap.Logger
}

func NewSettingsHandler(settings *services.SettingsService, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: logger}
}

// Get returns the user's settings with secrets masked: an API key comes back
// as "<key>_set": true/false, never in cleartext.
func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	raw, err := h.settings.Raw(c.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("failed to load settings", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to load settings",
		})
	}

	secret := make(map[string]bool)
	for _, k := range models.SecretSettingKeys() {
		secret[k] = true
	}

	out := fiber.Map{}
	for _, key := range models.KnownSettingKeys() {
		if secret[key] {
			out[key+"_set"] = raw[key] != ""
			continue
		}
		if v, ok := raw[key]; ok {
			out[key] = v
		}
	}
	return c.JSON(out)
}

// Update upserts a batch of settings. Unknown keys reject the whole request.
func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	var req map[string]string
	if err := c.BodyParser(&req); err != nil || len(req) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Request body must be a key/value object",
		})
	}

	userID := middleware.UserID(c)
	for key, value := range req {
		if err := h.settings.Set(c.Context(), userID, key, value); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		}
	}
	return c.JSON(fiber.Map{"message": "Settings updated"})
}
