package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/models"
	"github.com/loomchat/loom/internal/services"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// MemoryStore is the slice of the memory service the registry needs.
type MemoryStore interface {
	SaveFact(ctx context.Context, userID uuid.UUID, content string) (bool, error)
	ListFacts(ctx context.Context, userID uuid.UUID) ([]models.MemoryFact, error)
}

// Searcher is the slice of the web search service the registry needs.
type Searcher interface {
	Search(ctx context.Context, apiKey, query string, maxResults int) (*services.SearchResponse, error)
}

// ImageGenerator produces one image for a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, size, quality string) (*llm.GeneratedImage, error)
}

// Registry holds the built-in tools for one chat request, bound to the
// requesting user and their resolved credentials. Every handler returns a
// plain outcome and never an error: failure modes become descriptive result
// strings so the orchestration loop's handling stays uniform.
type Registry struct {
	memory    MemoryStore
	search    Searcher
	images    ImageGenerator
	userID    uuid.UUID
	tavilyKey string
	logger    *zap.Logger
}

func NewRegistry(memory MemoryStore, search Searcher, images ImageGenerator, userID uuid.UUID, tavilyKey string, logger *zap.Logger) *Registry {
	return &Registry{
		memory:    memory,
		search:    search,
		images:    images,
		userID:    userID,
		tavilyKey: tavilyKey,
		logger:    logger,
	}
}

// Definitions returns the built-in tools in OpenAI function format.
func (r *Registry) Definitions() []openai.Tool {
	return []openai.Tool{
		r.memorySaveTool(),
		r.memoryGetTool(),
		r.webSearchTool(),
		r.generateImageTool(),
	}
}

// Has reports whether name is a built-in tool. Built-ins shadow any remote
// tool exposing the same name.
func (r *Registry) Has(name string) bool {
	switch name {
	case "memory_save", "memory_get", "web_search", "generate_image":
		return true
	}
	return false
}

func (r *Registry) memorySaveTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "memory_save",
			Description: "Save a durable fact about the user to long-term memory. Use when the user shares a preference, circumstance, or detail worth remembering across conversations.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"fact": map[string]interface{}{
						"type":        "string",
						"description": "The fact to remember, as a short self-contained sentence (e.g. \"User's favorite language is Rust\").",
					},
				},
				"required": []string{"fact"},
			},
		},
	}
}

func (r *Registry) memoryGetTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "memory_get",
			Description: "Recall saved facts about the user. Pass keywords to filter, or an empty query to list everything.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Keywords to match against stored facts. Empty returns all facts.",
					},
				},
				"required": []string{},
			},
		},
	}
}

func (r *Registry) webSearchTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "web_search",
			Description: "Search the web for current information. Use for anything time-sensitive or outside your training data.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query.",
					},
					"max_results": map[string]interface{}{
						"type":        "integer",
						"description": "Number of results to return (1-10, default 5).",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (r *Registry) generateImageTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "generate_image",
			Description: "Generate an image from a text prompt. The image is shown to the user directly.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"prompt": map[string]interface{}{
						"type":        "string",
						"description": "Description of the image to generate.",
					},
					"size": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"1024x1024", "1792x1024", "1024x1792"},
						"description": "Image dimensions (default 1024x1024).",
					},
					"quality": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"standard", "hd"},
						"description": "Image quality (default standard).",
					},
				},
				"required": []string{"prompt"},
			},
		},
	}
}

// Execute runs a built-in tool by name.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) llm.ToolOutcome {
	switch name {
	case "memory_save":
		return r.memorySave(ctx, args)
	case "memory_get":
		return r.memoryGet(ctx, args)
	case "web_search":
		return r.webSearch(ctx, args)
	case "generate_image":
		return r.generateImage(ctx, args)
	default:
		return llm.ToolOutcome{Text: fmt.Sprintf("Unknown tool: %s", name)}
	}
}

func (r *Registry) memorySave(ctx context.Context, args map[string]interface{}) llm.ToolOutcome {
	fact, _ := args["fact"].(string)
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return llm.ToolOutcome{Text: "Cannot save an empty fact."}
	}

	created, err := r.memory.SaveFact(ctx, r.userID, fact)
	if err != nil {
		return llm.ToolOutcome{Text: fmt.Sprintf("Failed to save fact: %v", err)}
	}
	if !created {
		return llm.ToolOutcome{Text: fmt.Sprintf("Already remembered: %s", fact)}
	}
	return llm.ToolOutcome{Text: fmt.Sprintf("Remembered: %s", fact)}
}

func (r *Registry) memoryGet(ctx context.Context, args map[string]interface{}) llm.ToolOutcome {
	query, _ := args["query"].(string)

	facts, err := r.memory.ListFacts(ctx, r.userID)
	if err != nil {
		return llm.ToolOutcome{Text: fmt.Sprintf("Failed to read memory: %v", err)}
	}
	if len(facts) == 0 {
		return llm.ToolOutcome{Text: "No memories saved yet."}
	}

	tokens := strings.Fields(strings.ToLower(query))
	var matched []string
	for _, f := range facts {
		if len(tokens) == 0 {
			matched = append(matched, f.Content)
			continue
		}
		content := strings.ToLower(f.Content)
		for _, tok := range tokens {
			if strings.Contains(content, tok) {
				matched = append(matched, f.Content)
				break
			}
		}
	}

	if len(matched) == 0 {
		return llm.ToolOutcome{Text: fmt.Sprintf("No memories matched %q.", query)}
	}

	var sb strings.Builder
	for _, m := range matched {
		sb.WriteString("- " + m + "\n")
	}
	return llm.ToolOutcome{Text: sb.String()}
}

func (r *Registry) webSearch(ctx context.Context, args map[string]interface{}) llm.ToolOutcome {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return llm.ToolOutcome{Text: "Search query is required."}
	}
	if r.tavilyKey == "" {
		return llm.ToolOutcome{Text: "Web search is not configured: no search API key is set."}
	}

	maxResults := 5
	if n, ok := args["max_results"].(float64); ok {
		maxResults = int(n)
	}
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 10 {
		maxResults = 10
	}

	resp, err := r.search.Search(ctx, r.tavilyKey, query, maxResults)
	if err != nil {
		return llm.ToolOutcome{Text: fmt.Sprintf("Web search failed: %v", err)}
	}

	var sb strings.Builder
	if resp.Answer != "" {
		sb.WriteString(resp.Answer + "\n\n")
	}
	if len(resp.Results) == 0 && resp.Answer == "" {
		return llm.ToolOutcome{Text: "No search results found."}
	}
	for i, res := range resp.Results {
		sb.WriteString(fmt.Sprintf("%d. %s\n   URL: %s\n   %s\n", i+1, res.Title, res.URL, res.Snippet))
	}
	return llm.ToolOutcome{Text: sb.String()}
}

func (r *Registry) generateImage(ctx context.Context, args map[string]interface{}) llm.ToolOutcome {
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return llm.ToolOutcome{Text: "Image prompt is required."}
	}
	if r.images == nil {
		return llm.ToolOutcome{Text: "Image generation is not configured: no provider credential is set."}
	}

	size, _ := args["size"].(string)
	quality, _ := args["quality"].(string)

	img, err := r.images.Generate(ctx, prompt, size, quality)
	if err != nil {
		return llm.ToolOutcome{Text: fmt.Sprintf("Image generation failed: %v", err)}
	}

	// The model only sees the confirmation; the image travels to the client
	// through the typed side-channel.
	return llm.ToolOutcome{
		Text:  "Image generated successfully and shown to the user.",
		Image: img,
	}
}
