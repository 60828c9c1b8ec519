package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const Version = "1.0.0"

var startedAt = time.Now()

type SystemHandler struct {
	db *gorm.DB
}

func NewSystemHandler(db *gorm.DB) *SystemHandler {
	return &SystemHandler{db: db}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "up"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.Ping() != nil {
		dbStatus = "down"
	}
	return c.JSON(fiber.Map{
		"status":         "ok",
		"version":        Version,
		"database":       dbStatus,
		"uptime_seconds": int(time.Since(startedAt).Seconds()),
	})
}
