package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jamaly87/codebase-context-engine/internal/engine"
	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

func main() {
	query := flag.String("query", "", "Search query")
	repoPath := flag.String("repo", "", "Repository path")
	limit := flag.Int("limit", 0, "Maximum number of results (0 uses config default)")
	flag.Parse()

	if *repoPath == "" {
		var err error
		*repoPath, err = os.Getwd()
		if err != nil {
			log.Fatalf("Failed to get current directory: %v", err)
		}
	}
	if *query == "" {
		*query = "JWT token validation"
	}

	slog.Info("Starting search test", "repository", *repoPath, "query", *query)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer eng.Close()

	start := time.Now()
	response, err := eng.SearchCode(context.Background(), *repoPath, *query, models.SearchOptions{Limit: *limit})
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	duration := time.Since(start)

	slog.Info("Search completed", "duration", duration, "results_found", len(response.Results), "partial", response.Partial)

	if len(response.Results) == 0 {
		slog.Warn("No results found")
		return
	}

	for i, r := range response.Results {
		location := fmt.Sprintf("%s:%d-%d", r.RelativePath, r.StartLine, r.EndLine)
		if r.NodeKind != "" {
			location += fmt.Sprintf(" (%s)", r.NodeKind)
		}

		slog.Info("Search result",
			"rank", i+1,
			"location", location,
			"fused_score", r.FusedScore,
			"dense_score", r.DenseScore,
			"language", r.Language)
	}

	resultsPerSec := 0.0
	if duration.Milliseconds() > 0 {
		resultsPerSec = float64(len(response.Results)) / duration.Seconds()
	}
	slog.Info("Search performance",
		"search_time", duration,
		"results_count", len(response.Results),
		"results_per_sec", resultsPerSec)
}
