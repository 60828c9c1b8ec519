package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loomchat/loom/internal/models"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Route maps a merged tool name back to the server that owns it.
type Route struct {
	Endpoint   Endpoint
	ServerName string
}

// Gateway discovers and invokes tools across a user's enabled remote servers.
type Gateway struct {
	client *Client
	logger *zap.Logger
}

func NewGateway(client *Client, logger *zap.Logger) *Gateway {
	return &Gateway{client: client, logger: logger}
}

func endpointFor(server *models.MCPServer) Endpoint {
	return Endpoint{URL: server.URL, BearerToken: server.BearerToken()}
}

// CollectTools queries every server concurrently and independently: one
// unreachable server degrades the catalog, never fails the others. The merge
// runs in server iteration order and is first-server-wins on name collisions;
// a later server offering an already-claimed name is dropped for that name
// and never routed to.
func (g *Gateway) CollectTools(ctx context.Context, servers []models.MCPServer) ([]openai.Tool, map[string]Route) {
	perServer := make([][]ToolDef, len(servers))

	var wg sync.WaitGroup
	for i := range servers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defs, err := g.client.ListTools(ctx, endpointFor(&servers[i]))
			if err != nil {
				g.logger.Warn("MCP tool discovery failed",
					zap.String("server", servers[i].Name),
					zap.String("url", servers[i].URL),
					zap.Error(err))
				return
			}
			perServer[i] = defs
		}(i)
	}
	wg.Wait()

	var catalog []openai.Tool
	routes := make(map[string]Route)
	for i := range servers {
		for _, def := range perServer[i] {
			if def.Name == "" {
				continue
			}
			if _, taken := routes[def.Name]; taken {
				continue
			}
			routes[def.Name] = Route{
				Endpoint:   endpointFor(&servers[i]),
				ServerName: servers[i].Name,
			}
			catalog = append(catalog, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        def.Name,
					Description: def.Description,
					Parameters:  schemaOrEmpty(def.InputSchema),
				},
			})
		}
	}
	return catalog, routes
}

func schemaOrEmpty(schema json.RawMessage) interface{} {
	if len(schema) == 0 {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	return schema
}

// CallTool invokes a discovered remote tool. Failures never propagate: a
// broken remote tool degrades to failure text visible to the model.
func (g *Gateway) CallTool(ctx context.Context, route Route, name string, args map[string]interface{}) string {
	text, err := g.client.CallTool(ctx, route.Endpoint, name, args)
	if err != nil {
		g.logger.Warn("MCP tool call failed",
			zap.String("server", route.ServerName),
			zap.String("tool", name),
			zap.Error(err))
		return fmt.Sprintf("Tool %s failed: %v", name, err)
	}
	return text
}
