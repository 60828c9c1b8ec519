package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/loomchat/loom/internal/config"
	"go.uber.org/zap"
)

// ExecuteHandler proxies code snippets to the external sandbox service. The
// sandbox is opaque: it runs the code with its own isolation and limits, and
// this handler only enforces a request timeout.
type ExecuteHandler struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

func NewExecuteHandler(cfg *config.Config, logger *zap.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (h *ExecuteHandler) Run(c *fiber.Ctx) error {
	var req struct {
		Code     string `json:"code"`
		Language string `json:"language"`
	}
	if err := c.BodyParser(&req); err != nil || req.Code == "" || req.Language == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Code and language are required",
		})
	}

	if h.cfg.SandboxURL == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Code execution is not configured",
		})
	}

	body, _ := json.Marshal(fiber.Map{"code": req.Code, "language": req.Language})
	httpReq, err := http.NewRequestWithContext(c.Context(), http.MethodPost, h.cfg.SandboxURL, bytes.NewReader(body))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create request",
		})
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.logger.Warn("sandbox call failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "Code execution service unavailable",
		})
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var result struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Image  string `json:"image,omitempty"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid sandbox response",
		})
	}
	return c.JSON(result)
}
