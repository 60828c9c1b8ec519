package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/mcp"
	"github.com/loomchat/loom/internal/middleware"
	"github.com/loomchat/loom/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type MCPHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMCPHandler(db *gorm.DB, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{db: db, logger: logger}
}

type mcpServerRequest struct {
	Name       string         `json:"name"`
	URL        string         `json:"url"`
	Enabled    *bool          `json:"enabled"`
	AuthType   string         `json:"auth_type"`
	AuthConfig map[string]any `json:"auth_config"`
}

func (h *MCPHandler) List(c *fiber.Ctx) error {
	var servers []models.MCPServer
	h.db.Where("user_id = ?", middleware.UserID(c)).Order("created_at ASC").Find(&servers)
	return c.JSON(fiber.Map{"servers": servers})
}

func (h *MCPHandler) Create(c *fiber.Ctx) error {
	var req mcpServerRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" || req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Name and URL are required",
		})
	}

	// Same guard the gateway applies at call time; reject bad URLs at write
	// time so misconfiguration surfaces immediately.
	if err := mcp.ValidateURL(req.URL); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}

	server := models.MCPServer{
		UserID:   middleware.UserID(c),
		Name:     req.Name,
		URL:      req.URL,
		Enabled:  true,
		AuthType: normalizeAuthType(req.AuthType),
	}
	if req.Enabled != nil {
		server.Enabled = *req.Enabled
	}
	if req.AuthConfig != nil {
		if payload, err := json.Marshal(req.AuthConfig); err == nil {
			server.AuthConfig = datatypes.JSON(payload)
		}
	}

	if err := h.db.Create(&server).Error; err != nil {
		h.logger.Error("failed to create MCP server", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create server",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(server)
}

func (h *MCPHandler) Update(c *fiber.Ctx) error {
	server, ok := h.ownedServer(c)
	if !ok {
		return nil
	}

	var req mcpServerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	if req.URL != "" && req.URL != server.URL {
		if err := mcp.ValidateURL(req.URL); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		}
		server.URL = req.URL
	}
	if req.Name != "" {
		server.Name = req.Name
	}
	if req.Enabled != nil {
		server.Enabled = *req.Enabled
	}
	if req.AuthType != "" {
		server.AuthType = normalizeAuthType(req.AuthType)
	}
	if req.AuthConfig != nil {
		if payload, err := json.Marshal(req.AuthConfig); err == nil {
			server.AuthConfig = datatypes.JSON(payload)
		}
	}

	if err := h.db.Save(server).Error; err != nil {
		h.logger.Error("failed to update MCP server", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update server",
		})
	}
	return c.JSON(server)
}

func (h *MCPHandler) Toggle(c *fiber.Ctx) error {
	server, ok := h.ownedServer(c)
	if !ok {
		return nil
	}
	server.Enabled = !server.Enabled
	if err := h.db.Save(server).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to toggle server",
		})
	}
	return c.JSON(server)
}

func (h *MCPHandler) Delete(c *fiber.Ctx) error {
	server, ok := h.ownedServer(c)
	if !ok {
		return nil
	}
	if err := h.db.Delete(server).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete server",
		})
	}
	return c.JSON(fiber.Map{"message": "Server deleted"})
}

func (h *MCPHandler) ownedServer(c *fiber.Ctx) (*models.MCPServer, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid server ID",
		})
		return nil, false
	}
	var server models.MCPServer
	if err := h.db.First(&server, "id = ? AND user_id = ?", id, middleware.UserID(c)).Error; err != nil {
		c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Server not found",
		})
		return nil, false
	}
	return &server, true
}

func normalizeAuthType(t string) string {
	switch t {
	case models.MCPAuthToken, models.MCPAuthOAuth:
		return t
	default:
		return models.MCPAuthNone
	}
}
