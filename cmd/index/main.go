package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jamaly87/codebase-context-engine/internal/engine"
	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

func main() {
	repoPath, err := os.Getwd()
	if err != nil {
		log.Fatalf("Failed to get current directory: %v", err)
	}
	if len(os.Args) > 1 {
		repoPath = os.Args[1]
	}

	slog.Info("Starting repository indexing", "repository", repoPath)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Indexing.Background = false // this CLI always waits for completion

	slog.Info("Configuration loaded",
		"model", cfg.Embeddings.Model,
		"batch_size", cfg.Embeddings.BatchSize,
		"workers", cfg.Indexing.ParallelWorkers)

	slog.Info("Initializing engine")
	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer eng.Close()
	slog.Info("Engine ready")

	slog.Info("Starting indexing process")
	startTime := time.Now()

	err = eng.IndexCodebase(context.Background(), repoPath, true, func(p models.IndexProgress) {
		slog.Info("Indexing progress", "processed", p.ProcessedFiles, "total", p.TotalFiles, "percentage", p.Percentage)
	})
	if err != nil {
		slog.Error("Indexing failed", "error", err, "repository", repoPath, "duration", time.Since(startTime))
		os.Exit(1)
	}

	info, _, _ := eng.GetIndexingStatus(repoPath)
	slog.Info("Indexing completed successfully",
		"repository", repoPath,
		"indexed_files", info.IndexedFiles,
		"total_chunks", info.TotalChunks,
		"outcome", info.IndexOutcome,
		"duration", time.Since(startTime))
}
