package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/database"
	"github.com/loomchat/loom/internal/handlers"
	"github.com/loomchat/loom/internal/mcp"
	"github.com/loomchat/loom/internal/routes"
	"github.com/loomchat/loom/internal/services"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting Loom", zap.String("version", handlers.Version))

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET must be set")
	}

	// ─── Database ────────────────────────────────────────────────────────
	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("Database migration failed", zap.Error(err))
	}

	// ─── Services ────────────────────────────────────────────────────────
	settingsSvc := services.NewSettingsService(db, cfg)
	memorySvc := services.NewMemoryService(db, cfg.MaxMemoryFacts, cfg.MaxFactLength, cfg.AutoMemoryMax, logger)
	titleSvc := services.NewTitleService(db, logger)
	searchSvc := services.NewWebSearchService(time.Duration(cfg.SearchTimeoutSecs)*time.Second, logger)
	researchSvc := services.NewResearchService(searchSvc, logger)
	imageSvc := services.NewImageService(logger)

	mcpClient := mcp.NewClient(time.Duration(cfg.MCPTimeoutSecs)*time.Second, logger)
	gateway := mcp.NewGateway(mcpClient, logger)

	// ─── Handlers ───────────────────────────────────────────────────────
	authHandler := handlers.NewAuthHandler(cfg, db, logger)
	chatHandler := handlers.NewChatHandler(cfg, db, settingsSvc, memorySvc, titleSvc, researchSvc, searchSvc, imageSvc, gateway, logger)
	conversationHandler := handlers.NewConversationHandler(db, logger)
	settingsHandler := handlers.NewSettingsHandler(settingsSvc, logger)
	memoryHandler := handlers.NewMemoryHandler(memorySvc, logger)
	mcpHandler := handlers.NewMCPHandler(db, logger)
	executeHandler := handlers.NewExecuteHandler(cfg, logger)
	systemHandler := handlers.NewSystemHandler(db)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "loom v" + handlers.Version,
		ServerHeader: "loom",
		BodyLimit:    25 * 1024 * 1024, // attachments arrive as data URLs
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		logger.Info("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("ip", c.IP()),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, authHandler, chatHandler, conversationHandler,
		settingsHandler, memoryHandler, mcpHandler, executeHandler, systemHandler)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Shutting down Loom...")

		if err := app.Shutdown(); err != nil {
			logger.Error("Fiber shutdown error", zap.Error(err))
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	logger.Info("Loom listening", zap.String("addr", listenAddr))

	if err := app.Listen(listenAddr); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}
