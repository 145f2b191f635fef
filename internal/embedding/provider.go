// Package embedding provides a pluggable capability interface over the
// engine's dense-vector backends (OpenAI, Voyage, Gemini, Ollama).
package embedding

import (
	"context"
	"fmt"

	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

// Provider is the capability surface the engine needs from an embedding
// backend. Every concrete provider enforces a fixed Dimension(): if the
// backend's native model dimension differs, it must truncate (MRL) or error.
type Provider interface {
	ProviderID() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Error wraps a provider-side failure with a retryability classification so
// callers can decide whether to back off and retry or give up immediately.
type Error struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds the Provider named in cfg.Embeddings.Provider.
func New(cfg *config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg)
	case "voyage":
		return NewVoyage(cfg)
	case "gemini":
		return NewGemini(cfg)
	case "ollama", "":
		return NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// validMRLDimensions are the Matryoshka-learned truncation points nomic-embed
// and compatible models support; truncating to any other width discards the
// learned property that a prefix of the full vector is itself meaningful.
var validMRLDimensions = []int{64, 128, 256, 512, 768}

func snapToValidDimension(target int) int {
	best := validMRLDimensions[0]
	bestDiff := abs(target - best)
	for _, d := range validMRLDimensions[1:] {
		if diff := abs(target - d); diff < bestDiff {
			best = d
			bestDiff = diff
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
