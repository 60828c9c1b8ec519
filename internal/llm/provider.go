package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ToolExecutor runs one model-requested tool call. Implementations must not
// panic or block past ctx; any failure belongs in the returned outcome text.
type ToolExecutor func(ctx context.Context, name string, args map[string]interface{}) ToolOutcome

// Client wraps one OpenAI-compatible provider credential. Construct a fresh
// one per request from the resolved settings; it carries no cross-request
// state beyond the underlying HTTP client.
type Client struct {
	api       *openai.Client
	maxRounds int
	logger    *zap.Logger
}

func NewClient(apiKey, baseURL string, maxRounds int, logger *zap.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxRounds <= 0 {
		maxRounds = 10
	}
	return &Client{
		api:       openai.NewClientWithConfig(cfg),
		maxRounds: maxRounds,
		logger:    logger,
	}
}

type ChatRequest struct {
	Model           string
	Temperature     float32
	ReasoningEffort string // used instead of Temperature for reasoning models
	Messages        []openai.ChatCompletionMessage
	Tools           []openai.Tool
	Execute         ToolExecutor
}

// reasoningModel reports whether the model family rejects a temperature
// override and takes a reasoning-effort parameter instead.
func reasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// StreamChat opens up to maxRounds streaming completions against the
// provider, executing tool calls between rounds, and emits every event on the
// returned channel. The channel is closed after a terminal EventDone or
// EventError. Context cancellation aborts the in-flight stream and counts as
// graceful completion: an EventDone carrying whatever text accumulated.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		c.run(ctx, req, events)
	}()
	return events
}

func (c *Client) run(ctx context.Context, req ChatRequest, events chan<- Event) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	copy(messages, req.Messages)

	var full strings.Builder

	for round := 0; round < c.maxRounds; round++ {
		sreq := openai.ChatCompletionRequest{
			Model:    req.Model,
			Messages: messages,
			Stream:   true,
		}
		if len(req.Tools) > 0 && req.Execute != nil {
			sreq.Tools = req.Tools
		}
		if reasoningModel(req.Model) {
			sreq.ReasoningEffort = req.ReasoningEffort
		} else {
			sreq.Temperature = req.Temperature
		}

		stream, err := c.api.CreateChatCompletionStream(ctx, sreq)
		if err != nil {
			if canceled(ctx, err) {
				events <- Event{Type: EventDone, FullText: full.String()}
				return
			}
			events <- Event{Type: EventError, Err: fmt.Errorf("provider stream failed: %w", err)}
			return
		}

		var roundText strings.Builder
		// Providers deliver tool-call names and argument strings in fragments
		// keyed by a positional index, out of alignment with text deltas.
		calls := make(map[int]*openai.ToolCall)
		var order []int
		finish := ""

		for {
			resp, rerr := stream.Recv()
			if errors.Is(rerr, io.EOF) {
				break
			}
			if rerr != nil {
				stream.Close()
				if canceled(ctx, rerr) {
					events <- Event{Type: EventDone, FullText: full.String()}
					return
				}
				events <- Event{Type: EventError, Err: fmt.Errorf("provider stream error: %w", rerr)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]

			if choice.Delta.Content != "" {
				roundText.WriteString(choice.Delta.Content)
				full.WriteString(choice.Delta.Content)
				events <- Event{Type: EventDelta, Content: choice.Delta.Content}
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := calls[idx]
				if !ok {
					acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
					calls[idx] = acc
					order = append(order, idx)
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				acc.Function.Name += tc.Function.Name
				acc.Function.Arguments += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				finish = string(choice.FinishReason)
			}
		}
		stream.Close()

		if finish != string(openai.FinishReasonToolCalls) || len(order) == 0 || req.Execute == nil || len(req.Tools) == 0 {
			events <- Event{Type: EventDone, FullText: full.String()}
			return
		}

		assistant := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: roundText.String(),
		}
		for _, idx := range order {
			assistant.ToolCalls = append(assistant.ToolCalls, *calls[idx])
		}
		messages = append(messages, assistant)

		for _, idx := range order {
			call := calls[idx]
			args := map[string]interface{}{}
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					c.logger.Warn("unparseable tool arguments",
						zap.String("tool", call.Function.Name), zap.Error(err))
					args = map[string]interface{}{}
				}
			}

			events <- Event{
				Type:     EventToolCall,
				ToolName: call.Function.Name,
				ToolArgs: call.Function.Arguments,
			}

			outcome := c.safeExecute(ctx, req.Execute, call.Function.Name, args)

			events <- Event{
				Type:       EventToolResult,
				ToolName:   call.Function.Name,
				ToolResult: outcome.Text,
			}
			if outcome.Image != nil {
				events <- Event{Type: EventImage, Image: outcome.Image}
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    outcome.Text,
				ToolCallID: call.ID,
			})
		}
	}

	// Round cap reached with the model still asking for tools; stop here
	// rather than looping forever.
	events <- Event{Type: EventDone, FullText: full.String()}
}

// safeExecute shields the round loop from executor failures: a panic or empty
// outcome degrades to an error-describing result string for the model.
func (c *Client) safeExecute(ctx context.Context, exec ToolExecutor, name string, args map[string]interface{}) (outcome ToolOutcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("tool executor panicked", zap.String("tool", name), zap.Any("panic", r))
			outcome = ToolOutcome{Text: fmt.Sprintf("Tool %s failed: internal error", name)}
		}
	}()
	outcome = exec(ctx, name, args)
	if outcome.Text == "" {
		outcome.Text = fmt.Sprintf("Tool %s returned no output", name)
	}
	return outcome
}

// Complete is the non-streaming helper used by background work (titling,
// memory extraction, research planning).
func (c *Client) Complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if reasoningModel(model) {
		req.ReasoningEffort = "low"
	} else {
		req.Temperature = temperature
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// API exposes the underlying provider client for services that need
// endpoints beyond chat completions (image generation).
func (c *Client) API() *openai.Client {
	return c.api
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
