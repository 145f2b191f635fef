package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jamaly87/codebase-context-engine/internal/engine"
	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions for the MCP server, one per engine.Context public
// operation.
func (s *Server) getTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "search_code",
			Description: "Search for code in a repository using natural language queries. Use this tool when the user asks questions like 'where is...', 'find...', 'show me...', 'how do we...', or any question about locating specific code, functions, classes, or logic in the codebase. Returns ranked code matches with exact file locations, line numbers, and relevance scores. Works with semantic understanding (e.g., 'authentication logic' finds auth-related code even without exact keyword matches).",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Natural language search query describing what code to find.",
					},
					"repo_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the repository to search",
					},
					"limit": map[string]interface{}{
						"type":        "number",
						"description": "Maximum number of results to return (default: 10)",
						"default":     10,
					},
					"extensions": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Restrict results to these file extensions, e.g. ['.go', '.py']",
					},
				},
				Required: []string{"query", "repo_path"},
			},
		},
		{
			Name:        "index_codebase",
			Description: "Index a code repository to enable semantic search. Use this tool when: (1) First time working with a new repository, (2) User explicitly asks to 'index', 'scan', or 'prepare' a codebase, (3) Before the first search query on a repository. This scans all code files, breaks them into chunks, generates embeddings, and stores them in the vector store. A repository that is already indexed is refused unless force_reindex is set, which clears and rebuilds it; a retry after a failed or interrupted run only reprocesses changed files. Required before search_code can work on a repository.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"repo_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the repository to index",
					},
					"force_reindex": map[string]interface{}{
						"type":        "boolean",
						"description": "Force full reindex even if repository is already indexed (default: false)",
						"default":     false,
					},
				},
				Required: []string{"repo_path"},
			},
		},
		{
			Name:        "clear_index",
			Description: "Clear the index for a repository. Use this tool when: (1) User reports incorrect or stale search results, (2) Repository structure has changed significantly (files moved/renamed), (3) User explicitly asks to 'clear index', 'reset index', or 'start fresh', (4) Debugging indexing issues. After clearing, the repository must be reindexed using index_codebase.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"repo_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the repository whose index should be cleared",
					},
				},
				Required: []string{"repo_path"},
			},
		},
		{
			Name:        "get_indexing_status",
			Description: "Get indexing status and statistics for a repository. Use this tool when: (1) User asks if a repository is indexed or 'is this repo ready?', (2) User asks 'how many files are indexed?', (3) Checking if indexing is needed before a search, (4) User asks about index freshness. Returns: total files indexed, number of code chunks, last index timestamp, and repository status.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"repo_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the repository",
					},
				},
				Required: []string{"repo_path"},
			},
		},
	}
}

func (s *Server) handleSearchCode(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return errorResult("query is required and must be a string"), nil
	}
	repoPath, ok := args["repo_path"].(string)
	if !ok || repoPath == "" {
		return errorResult("repo_path is required and must be a string"), nil
	}

	limit := 0
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}
	var extensions []string
	if raw, ok := args["extensions"].([]interface{}); ok {
		for _, e := range raw {
			if s, ok := e.(string); ok {
				extensions = append(extensions, s)
			}
		}
	}

	response, err := s.engine.SearchCode(ctx, repoPath, query, models.SearchOptions{
		Limit:           limit,
		ExtensionFilter: extensions,
	})
	if err != nil {
		if errors.Is(err, engine.ErrNotIndexed) {
			return errorResult(fmt.Sprintf("%s has not been indexed yet; call index_codebase first", repoPath)), nil
		}
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: formatSearchResults(*response)},
		},
	}, nil
}

func (s *Server) handleIndexCodebase(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	repoPath, ok := args["repo_path"].(string)
	if !ok || repoPath == "" {
		return errorResult("repo_path is required and must be a string"), nil
	}
	forceReindex := false
	if fr, ok := args["force_reindex"].(bool); ok {
		forceReindex = fr
	}

	err := s.engine.IndexCodebase(ctx, repoPath, forceReindex, nil)
	if err != nil {
		if errors.Is(err, engine.ErrAlreadyIndexing) {
			return successResult(map[string]interface{}{
				"message": "Indexing already in progress",
				"repo":    repoPath,
			}), nil
		}
		return errorResult(fmt.Sprintf("failed to index: %v", err)), nil
	}

	if s.config.Indexing.Background {
		return successResult(map[string]interface{}{
			"message":       "Indexing started in background",
			"repo":          repoPath,
			"force_reindex": forceReindex,
			"note":          "Use get_indexing_status to check progress",
		}), nil
	}

	info, _, _ := s.engine.GetIndexingStatus(repoPath)
	return successResult(map[string]interface{}{
		"message":       "Indexing completed",
		"repo":          repoPath,
		"indexed_files": info.IndexedFiles,
		"total_chunks":  info.TotalChunks,
		"outcome":       info.IndexOutcome,
	}), nil
}

func (s *Server) handleClearIndex(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	repoPath, ok := args["repo_path"].(string)
	if !ok || repoPath == "" {
		return errorResult("repo_path is required and must be a string"), nil
	}

	if err := s.engine.ClearIndex(ctx, repoPath); err != nil {
		return errorResult(fmt.Sprintf("failed to clear index: %v", err)), nil
	}

	return successResult(map[string]interface{}{
		"message": "Index cleared successfully",
		"repo":    repoPath,
	}), nil
}

func (s *Server) handleGetIndexingStatus(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	repoPath, ok := args["repo_path"].(string)
	if !ok || repoPath == "" {
		return errorResult("repo_path is required and must be a string"), nil
	}

	info, found, err := s.engine.GetIndexingStatus(repoPath)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to get status: %v", err)), nil
	}
	if !found {
		return successResult(map[string]interface{}{
			"repo":   repoPath,
			"status": "not_indexed",
		}), nil
	}
	return successResult(info), nil
}

// Helper functions

func successResult(data interface{}) *mcp.CallToolResult {
	jsonData, _ := json.MarshalIndent(data, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(jsonData)},
		},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: fmt.Sprintf("Error: %s", message)},
		},
		IsError: true,
	}
}

func formatSearchResults(response models.SearchResponse) string {
	if len(response.Results) == 0 {
		return "No results found."
	}

	var output strings.Builder
	fmt.Fprintf(&output, "Found %d results", len(response.Results))
	if response.Partial {
		output.WriteString(" (partial: indexing still in progress)")
	}
	output.WriteString(":\n\n")

	for i, r := range response.Results {
		location := fmt.Sprintf("%s:%d-%d", r.RelativePath, r.StartLine, r.EndLine)
		if r.NodeKind != "" {
			location += fmt.Sprintf(" (%s)", r.NodeKind)
		}

		fmt.Fprintf(&output, "%d. %s\n", i+1, location)
		fmt.Fprintf(&output, "   score: %.3f (dense: %.3f), language: %s\n", r.FusedScore, r.DenseScore, r.Language)

		lines := strings.Split(r.Content, "\n")
		previewLines := 3
		if len(lines) < previewLines {
			previewLines = len(lines)
		}
		output.WriteString("   Preview:\n")
		for j := 0; j < previewLines; j++ {
			line := strings.TrimSpace(lines[j])
			if len(line) > 80 {
				line = line[:80] + "..."
			}
			fmt.Fprintf(&output, "   | %s\n", line)
		}
		if len(lines) > previewLines {
			fmt.Fprintf(&output, "   | ... (%d more lines)\n", len(lines)-previewLines)
		}
		output.WriteString("\n")
	}

	return output.String()
}
