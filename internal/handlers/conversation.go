package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/middleware"
	"github.com/loomchat/loom/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ConversationHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewConversationHandler(db *gorm.DB, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{db: db, logger: logger}
}

func (h *ConversationHandler) List(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	perPage, _ := strconv.Atoi(c.Query("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 50 {
		perPage = 20
	}

	var total int64
	h.db.Model(&models.Conversation{}).Where("user_id = ?", userID).Count(&total)

	var convs []models.Conversation
	h.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&convs)

	return c.JSON(fiber.Map{
		"conversations": convs,
		"total":         total,
		"page":          page,
		"per_page":      perPage,
	})
}

func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	conv, ok := h.ownedConversation(c)
	if !ok {
		return nil
	}
	return c.JSON(conv)
}

func (h *ConversationHandler) Messages(c *fiber.Ctx) error {
	conv, ok := h.ownedConversation(c)
	if !ok {
		return nil
	}

	var messages []models.Message
	h.db.Where("conversation_id = ?", conv.ID).
		Order("created_at ASC, seq ASC").
		Find(&messages)

	return c.JSON(fiber.Map{
		"conversation": conv,
		"messages":     messages,
	})
}

func (h *ConversationHandler) Delete(c *fiber.Ctx) error {
	conv, ok := h.ownedConversation(c)
	if !ok {
		return nil
	}

	// Cascade: messages first, then the conversation row.
	if err := h.db.Where("conversation_id = ?", conv.ID).Delete(&models.Message{}).Error; err != nil {
		h.logger.Error("failed to delete conversation messages", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete conversation",
		})
	}
	if err := h.db.Delete(&models.Conversation{}, "id = ?", conv.ID).Error; err != nil {
		h.logger.Error("failed to delete conversation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete conversation",
		})
	}
	return c.JSON(fiber.Map{"message": "Conversation deleted"})
}

// EditMessage deletes the edited message and every later message in the same
// conversation by creation order; the caller is expected to re-send.
func (h *ConversationHandler) EditMessage(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	msgID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid message ID",
		})
	}

	var msg models.Message
	if err := h.db.First(&msg, "id = ?", msgID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Message not found",
		})
	}

	var conv models.Conversation
	if err := h.db.First(&conv, "id = ? AND user_id = ?", msg.ConversationID, userID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Message not found",
		})
	}

	res := h.db.Where(
		"conversation_id = ? AND (created_at > ? OR (created_at = ? AND seq >= ?))",
		conv.ID, msg.CreatedAt, msg.CreatedAt, msg.Seq,
	).Delete(&models.Message{})
	if res.Error != nil {
		h.logger.Error("failed to truncate conversation", zap.Error(res.Error))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to edit message",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Message and later messages deleted; re-send to continue",
		"deleted": res.RowsAffected,
	})
}

func (h *ConversationHandler) ownedConversation(c *fiber.Ctx) (*models.Conversation, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid conversation ID",
		})
		return nil, false
	}

	var conv models.Conversation
	if err := h.db.First(&conv, "id = ? AND user_id = ?", id, middleware.UserID(c)).Error; err != nil {
		c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Conversation not found",
		})
		return nil, false
	}
	return &conv, true
}
