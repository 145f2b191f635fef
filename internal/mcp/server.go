// Package mcp is a thin boundary adapter exposing the engine's four public
// operations as MCP tools. It exercises internal/engine exclusively and
// adds no semantics of its own, per the out-of-scope collaborator framing:
// this package only translates tool calls into engine.Context calls and
// engine results back into MCP content.
package mcp

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamaly87/codebase-context-engine/internal/engine"
	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

// Server represents the MCP server
type Server struct {
	config    *config.Config
	mcpServer *server.MCPServer
	engine    *engine.Context
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config) (*Server, error) {
	ctx, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine context: %w", err)
	}

	s := &Server{
		config: cfg,
		engine: ctx,
	}

	mcpServer := server.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
	)

	tools := s.getTools()
	for _, tool := range tools {
		mcpServer.AddTool(tool, s.createToolHandler(tool.Name))
	}
	s.mcpServer = mcpServer

	log.Printf("MCP server initialized: %s v%s", cfg.Server.Name, cfg.Server.Version)
	log.Printf("Registered %d tools", len(tools))

	return s, nil
}

// createToolHandler creates a handler function for a given tool name
func (s *Server) createToolHandler(toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Printf("Handling tool call: %s", toolName)

		var args map[string]interface{}
		if request.Params.Arguments != nil {
			var ok bool
			args, ok = request.Params.Arguments.(map[string]interface{})
			if !ok {
				return errorResult("invalid arguments format"), nil
			}
		} else {
			args = make(map[string]interface{})
		}

		switch toolName {
		case "search_code":
			return s.handleSearchCode(ctx, args)
		case "index_codebase":
			return s.handleIndexCodebase(ctx, args)
		case "clear_index":
			return s.handleClearIndex(ctx, args)
		case "get_indexing_status":
			return s.handleGetIndexingStatus(ctx, args)
		default:
			return errorResult(fmt.Sprintf("unknown tool: %s", toolName)), nil
		}
	}
}

// Start starts the MCP server with stdio transport
func (s *Server) Start(ctx context.Context) error {
	log.Printf("Starting MCP server on stdio transport...")
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Close closes the server and cleans up resources
func (s *Server) Close() error {
	log.Printf("Shutting down MCP server...")
	return s.engine.Close()
}
