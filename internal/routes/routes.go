package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/handlers"
	"github.com/loomchat/loom/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	chatHandler *handlers.ChatHandler,
	conversationHandler *handlers.ConversationHandler,
	settingsHandler *handlers.SettingsHandler,
	memoryHandler *handlers.MemoryHandler,
	mcpHandler *handlers.MCPHandler,
	executeHandler *handlers.ExecuteHandler,
	systemHandler *handlers.SystemHandler,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/register", authHandler.Register)
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	// Auth (protected)
	api.Get("/auth/me", authHandler.Me)

	// Chat
	api.Post("/chat/stream", chatHandler.Stream)
	api.Use("/chat/ws", chatHandler.WSUpgrade())
	api.Get("/chat/ws", chatHandler.WS())

	// Conversations
	api.Get("/conversations", conversationHandler.List)
	api.Get("/conversations/:id", conversationHandler.Get)
	api.Get("/conversations/:id/messages", conversationHandler.Messages)
	api.Delete("/conversations/:id", conversationHandler.Delete)
	api.Post("/messages/:id/edit", conversationHandler.EditMessage)

	// Settings
	api.Get("/settings", settingsHandler.Get)
	api.Put("/settings", settingsHandler.Update)

	// Memory
	api.Get("/memory", memoryHandler.List)
	api.Post("/memory", memoryHandler.Create)
	api.Delete("/memory/:id", memoryHandler.Delete)

	// MCP servers
	mcpGroup := api.Group("/mcp/servers")
	mcpGroup.Get("/", mcpHandler.List)
	mcpGroup.Post("/", mcpHandler.Create)
	mcpGroup.Put("/:id", mcpHandler.Update)
	mcpGroup.Post("/:id/toggle", mcpHandler.Toggle)
	mcpGroup.Delete("/:id", mcpHandler.Delete)

	// Code execution sandbox proxy
	api.Post("/execute", executeHandler.Run)
}
