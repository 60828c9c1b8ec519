package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/middleware"
	"github.com/loomchat/loom/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MemoryHandler struct {
	memory *services.MemoryService
	logger *zap.Logger
}

func NewMemoryHandler(memory *services.MemoryService, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{memory: memory, logger: logger}
}

func (h *MemoryHandler) List(c *fiber.Ctx) error {
	facts, err := h.memory.ListFacts(c.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("failed to list memory facts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to load memory",
		})
	}
	return c.JSON(fiber.Map{"facts": facts, "total": len(facts)})
}

func (h *MemoryHandler) Create(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Content is required",
		})
	}

	created, err := h.memory.SaveFact(c.Context(), middleware.UserID(c), req.Content)
	if err != nil {
		status := fiber.StatusBadRequest
		if errors.Is(err, services.ErrMemoryFull) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
	if !created {
		return c.JSON(fiber.Map{"message": "Fact already remembered", "created": false})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Fact saved", "created": true})
}

func (h *MemoryHandler) Delete(c *fiber.Ctx) error {
	factID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid fact ID",
		})
	}

	if err := h.memory.DeleteFact(c.Context(), middleware.UserID(c), factID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   true,
				"message": "Fact not found",
			})
		}
		h.logger.Error("failed to delete fact", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete fact",
		})
	}
	return c.JSON(fiber.Map{"message": "Fact deleted"})
}
