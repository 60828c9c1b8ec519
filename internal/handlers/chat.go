package handlers

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/mcp"
	"github.com/loomchat/loom/internal/middleware"
	"github.com/loomchat/loom/internal/models"
	"github.com/loomchat/loom/internal/services"
	"github.com/loomchat/loom/internal/tools"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxMessageLength = 32_000
	toolResultLimit  = 600
)

const basePrompt = `You are Loom, a helpful assistant with long-term memory, web search, and image generation.

Be concise and direct. Use markdown formatting where it helps readability.`

const toolGuidance = `
## Tool usage
- Save durable personal facts with memory_save; recall them with memory_get.
- Use web_search for anything time-sensitive or outside your knowledge.
- Use generate_image when the user asks for a picture; do not describe the image in text afterwards.
- Remote tools may be available; call them by name when relevant.`

// ToolGateway is the slice of the MCP gateway the chat handler needs.
type ToolGateway interface {
	CollectTools(ctx context.Context, servers []models.MCPServer) ([]openai.Tool, map[string]mcp.Route)
	CallTool(ctx context.Context, route mcp.Route, name string, args map[string]interface{}) string
}

type ChatHandler struct {
	cfg      *config.Config
	db       *gorm.DB
	settings *services.SettingsService
	memory   *services.MemoryService
	titles   *services.TitleService
	research *services.ResearchService
	search   *services.WebSearchService
	images   *services.ImageService
	gateway  ToolGateway
	logger   *zap.Logger
}

func NewChatHandler(
	cfg *config.Config,
	db *gorm.DB,
	settings *services.SettingsService,
	memory *services.MemoryService,
	titles *services.TitleService,
	research *services.ResearchService,
	search *services.WebSearchService,
	images *services.ImageService,
	gateway ToolGateway,
	logger *zap.Logger,
) *ChatHandler {
	return &ChatHandler{
		cfg:      cfg,
		db:       db,
		settings: settings,
		memory:   memory,
		titles:   titles,
		research: research,
		search:   search,
		images:   images,
		gateway:  gateway,
		logger:   logger,
	}
}

type chatAttachment struct {
	Type    string `json:"type"` // "image" or "text"
	Name    string `json:"name"`
	DataURL string `json:"data_url,omitempty"` // images, passed through as-is
	Content string `json:"content,omitempty"`  // text files, inlined fenced
}

type chatRequest struct {
	Message        string           `json:"message"`
	ConversationID string           `json:"conversation_id"`
	Attachments    []chatAttachment `json:"attachments"`
}

// chatRun carries everything resolved before streaming begins.
type chatRun struct {
	userID   uuid.UUID
	conv     *models.Conversation
	eff      *services.EffectiveSettings
	req      chatRequest
	history  []models.Message
	firstMsg bool
}

// Stream handles POST /api/chat/stream: validation and persistence up front,
// then the streamed orchestration in the response body writer.
func (h *ChatHandler) Stream(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Message is required",
		})
	}

	run, errMsg, status := h.prepare(c.Context(), middleware.UserID(c), req)
	if errMsg != "" {
		return c.Status(status).JSON(fiber.Map{"error": true, "message": errMsg})
	}

	c.Set("Content-Type", "application/x-ndjson")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	reqCtx := c.Context()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(reqCtx)
		defer cancel()
		ew := newStreamEventWriter(w, cancel)
		h.orchestrate(ctx, run, ew)
	})
	return nil
}

// WSUpgrade gates the WebSocket route.
func (h *ChatHandler) WSUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// WS handles GET /api/chat/ws: the client sends one chat request as JSON and
// receives the same event stream as the HTTP transport, one event per text
// frame. Closing the socket cancels the run.
func (h *ChatHandler) WS() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		userID, _ := conn.Locals("user_id").(uuid.UUID)
		ew := newWSEventWriter(conn)

		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
			ew.WriteEvent("error", fiber.Map{"message": "Message is required"})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		run, errMsg, _ := h.prepare(ctx, userID, req)
		if errMsg != "" {
			ew.WriteEvent("error", fiber.Map{"message": errMsg})
			return
		}

		// Any further read (or a close frame) ends the run.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		h.orchestrate(ctx, run, ew)
	})
}

// prepare runs every step that must finish before streaming: conversation
// resolution, settings + credential check, input validation, user-message
// persistence, and the fire-and-forget auto-title.
func (h *ChatHandler) prepare(ctx context.Context, userID uuid.UUID, req chatRequest) (*chatRun, string, int) {
	if len(req.Message) > maxMessageLength {
		return nil, "Message is too long", fiber.StatusBadRequest
	}

	eff, err := h.settings.Resolve(ctx, userID)
	if err != nil {
		h.logger.Error("failed to resolve settings", zap.Error(err))
		return nil, "Failed to load settings", fiber.StatusInternalServerError
	}
	if eff.OpenAIAPIKey == "" {
		return nil, "No provider API key configured. Add one in settings.", fiber.StatusBadRequest
	}

	var conv models.Conversation
	if req.ConversationID != "" {
		convID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return nil, "Invalid conversation ID", fiber.StatusBadRequest
		}
		if err := h.db.First(&conv, "id = ? AND user_id = ?", convID, userID).Error; err != nil {
			return nil, "Conversation not found", fiber.StatusNotFound
		}
	} else {
		conv = models.Conversation{
			UserID: userID,
			Title:  truncate(req.Message, 100),
		}
		if err := h.db.Create(&conv).Error; err != nil {
			h.logger.Error("failed to create conversation", zap.Error(err))
			return nil, "Failed to create conversation", fiber.StatusInternalServerError
		}
	}

	// Bounded window of prior messages, chronological, loaded before the new
	// user message is persisted.
	var history []models.Message
	if err := h.db.Where("conversation_id = ?", conv.ID).
		Order("created_at DESC, seq DESC").
		Limit(h.cfg.HistoryWindow).
		Find(&history).Error; err != nil {
		h.logger.Warn("failed to load history", zap.Error(err))
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	firstMsg := len(history) == 0

	userMsg := models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Message,
	}
	if err := h.db.Create(&userMsg).Error; err != nil {
		h.logger.Error("failed to persist user message", zap.Error(err))
		return nil, "Failed to save message", fiber.StatusInternalServerError
	}

	return &chatRun{
		userID:   userID,
		conv:     &conv,
		eff:      eff,
		req:      req,
		history:  history,
		firstMsg: firstMsg,
	}, "", 0
}

// orchestrate is the per-request conversational core: catalog assembly,
// optional research pre-stage, prompt construction, the provider round loop,
// event relay, and completion persistence.
func (h *ChatHandler) orchestrate(ctx context.Context, run *chatRun, ew eventWriter) {
	ew.WriteEvent("conv_id", fiber.Map{"conversation_id": run.conv.ID})

	provider := llm.NewClient(run.eff.OpenAIAPIKey, h.cfg.OpenAIBaseURL, h.cfg.MaxToolRounds, h.logger)

	if run.firstMsg {
		go h.titles.GenerateTitle(provider, run.eff.Model, run.conv.ID, run.req.Message)
	}

	facts, err := h.memory.ListFacts(ctx, run.userID)
	if err != nil {
		h.logger.Warn("failed to load memory facts", zap.Error(err))
		facts = nil
	}

	registry := tools.NewRegistry(
		h.memory,
		h.search,
		h.images.Bind(provider),
		run.userID,
		run.eff.TavilyAPIKey,
		h.logger,
	)

	catalog := registry.Definitions()

	var enabledServers []models.MCPServer
	if err := h.db.Where("user_id = ? AND enabled = ?", run.userID, true).
		Order("created_at ASC").
		Find(&enabledServers).Error; err != nil {
		h.logger.Warn("failed to load MCP servers", zap.Error(err))
	}

	var routes map[string]mcp.Route
	if len(enabledServers) > 0 {
		var remote []openai.Tool
		remote, routes = h.gateway.CollectTools(ctx, enabledServers)
		// Built-ins were merged first, so they shadow remote names here too.
		taken := make(map[string]bool)
		for _, t := range catalog {
			taken[t.Function.Name] = true
		}
		for _, t := range remote {
			if !taken[t.Function.Name] {
				catalog = append(catalog, t)
			}
		}
	}

	execute := func(ctx context.Context, name string, args map[string]interface{}) llm.ToolOutcome {
		if registry.Has(name) {
			return registry.Execute(ctx, name, args)
		}
		if route, ok := routes[name]; ok {
			return llm.ToolOutcome{Text: h.gateway.CallTool(ctx, route, name, args)}
		}
		return llm.ToolOutcome{Text: fmt.Sprintf("Tool %s not found", name)}
	}

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: h.buildSystemPrompt(run.eff, facts),
	}}

	// Deep research pre-stage, synchronous, failure degrades to no context.
	if run.eff.ChatMode == services.ModeDeepResearch && run.eff.TavilyAPIKey != "" {
		ew.WriteEvent("research_start", fiber.Map{})
		digest, count, err := h.research.Run(ctx, provider, run.eff.Model, run.eff.TavilyAPIKey, run.req.Message, func(q string) {
			ew.WriteEvent("research_query", fiber.Map{"query": q})
		})
		if err != nil {
			h.logger.Warn("research stage failed", zap.Error(err))
		} else {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Research findings gathered for this question:\n\n" + digest,
			})
		}
		ew.WriteEvent("research_done", fiber.Map{"query_count": count})
	}

	for _, m := range run.history {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, buildUserTurn(run.req))

	effort := "low"
	if run.eff.ChatMode == services.ModeThinking || run.eff.ChatMode == services.ModeDeepResearch {
		effort = "high"
	}

	events := provider.StreamChat(ctx, llm.ChatRequest{
		Model:           run.eff.Model,
		Temperature:     run.eff.Temperature,
		ReasoningEffort: effort,
		Messages:        messages,
		Tools:           catalog,
		Execute:         execute,
	})

	for ev := range events {
		switch ev.Type {
		case llm.EventDelta:
			ew.WriteEvent("delta", fiber.Map{"content": ev.Content})
		case llm.EventToolCall:
			ew.WriteEvent("tool_call", fiber.Map{"name": ev.ToolName, "args": ev.ToolArgs})
		case llm.EventToolResult:
			ew.WriteEvent("tool_result", fiber.Map{"name": ev.ToolName, "result": truncate(ev.ToolResult, toolResultLimit)})
		case llm.EventImage:
			ew.WriteEvent("image_generated", fiber.Map{"data_url": ev.Image.DataURL, "revised_prompt": ev.Image.RevisedPrompt})
		case llm.EventError:
			h.logger.Error("provider stream failed", zap.Error(ev.Err))
			ew.WriteEvent("error", fiber.Map{"message": ev.Err.Error()})
			return
		case llm.EventDone:
			h.finish(ctx, run, provider, ev.FullText, ew)
			return
		}
	}
}

// finish persists the assistant response and kicks off background memory
// extraction. A cancelled request persists nothing and emits nothing.
func (h *ChatHandler) finish(ctx context.Context, run *chatRun, provider *llm.Client, fullText string, ew eventWriter) {
	if ctx.Err() != nil {
		return
	}

	if fullText != "" {
		assistantMsg := models.Message{
			ConversationID: run.conv.ID,
			Role:           models.RoleAssistant,
			Content:        fullText,
		}
		if err := h.db.Create(&assistantMsg).Error; err != nil {
			h.logger.Error("failed to persist assistant message", zap.Error(err))
		}
		h.db.Model(&models.Conversation{}).
			Where("id = ?", run.conv.ID).
			Update("updated_at", time.Now())
	}

	ew.WriteEvent("done", fiber.Map{})

	if fullText != "" && run.eff.AutoMemoryEnabled {
		// Detached from the request context on purpose: extraction may outlive
		// the response and is allowed to fail silently.
		exchange := append(append([]models.Message{}, run.history...),
			models.Message{Role: models.RoleUser, Content: run.req.Message},
			models.Message{Role: models.RoleAssistant, Content: fullText},
		)
		go h.memory.ExtractAndStore(provider, run.eff.Model, run.userID, exchange)
	}
}

func (h *ChatHandler) buildSystemPrompt(eff *services.EffectiveSettings, facts []models.MemoryFact) string {
	var sb strings.Builder

	if eff.SystemPrompt != "" {
		sb.WriteString(eff.SystemPrompt)
	} else {
		sb.WriteString(basePrompt)
	}

	switch eff.ChatMode {
	case services.ModeThinking:
		sb.WriteString("\n\nReason carefully step by step before answering.")
	case services.ModeDeepResearch:
		sb.WriteString("\n\nResearch findings may be provided as additional context; ground your answer in them and cite sources by URL.")
	}

	sb.WriteString("\n" + toolGuidance)

	if eff.CustomInstructions != "" {
		sb.WriteString("\n\n## User instructions\n")
		sb.WriteString(eff.CustomInstructions)
	}

	if eff.MemoryEnabled && len(facts) > 0 {
		sb.WriteString("\n\n## Known facts about the user\n")
		for _, f := range facts {
			sb.WriteString("- " + f.Content + "\n")
		}
	}

	return sb.String()
}

// buildUserTurn composes the final user message: plain text, or a multi-part
// turn when attachments are present. Image attachments pass through as image
// parts; text files are fenced into the text part.
func buildUserTurn(req chatRequest) openai.ChatCompletionMessage {
	if len(req.Attachments) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message}
	}

	text := req.Message
	var imageParts []openai.ChatMessagePart
	for _, att := range req.Attachments {
		switch att.Type {
		case "image":
			if att.DataURL == "" {
				continue
			}
			imageParts = append(imageParts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: att.DataURL},
			})
		case "text":
			if att.Content == "" {
				continue
			}
			text += fmt.Sprintf("\n\nAttached file %s:\n```\n%s\n```", att.Name, att.Content)
		}
	}

	if len(imageParts) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}

	parts := append([]openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: text,
	}}, imageParts...)
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
