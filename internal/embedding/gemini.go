package embedding

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

// Gemini wraps google/generative-ai-go's embedding model, the same SDK the
// pack's Gemini chat integration uses for client construction.
type Gemini struct {
	apiKey string
	cfg    *config.EmbeddingsConfig
}

// NewGemini builds a Gemini provider from cfg. Requires cfg.APIKey.
func NewGemini(cfg *config.EmbeddingsConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini embedding provider requires an API key")
	}
	return &Gemini{apiKey: cfg.APIKey, cfg: cfg}, nil
}

func (g *Gemini) ProviderID() string { return "gemini" }

func (g *Gemini) Dimension() int {
	if g.cfg.Dimension > 0 {
		return g.cfg.Dimension
	}
	return g.cfg.FullDimension
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := withRetry(ctx, func() error {
		client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
		if err != nil {
			return &Error{Provider: "gemini", Retryable: true, Err: err}
		}
		defer client.Close()

		model := client.EmbeddingModel(g.cfg.Model)
		resp, err := model.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return &Error{Provider: "gemini", Retryable: true, Err: err}
		}
		if resp.Embedding == nil {
			return &Error{Provider: "gemini", Retryable: false, Err: errors.New("empty embedding response")}
		}

		values := resp.Embedding.Values
		if g.cfg.Normalize {
			values = normalize(values)
		}
		embedding = values
		return nil
	})
	return embedding, err
}

// EmbedBatch uses Gemini's batch embedding request, one client per call
// since genai.Client is cheap to construct and the provider is called
// infrequently relative to Ollama's local-loopback case.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := withRetry(ctx, func() error {
		client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
		if err != nil {
			return &Error{Provider: "gemini", Retryable: true, Err: err}
		}
		defer client.Close()

		model := client.EmbeddingModel(g.cfg.Model)
		batch := model.NewBatch()
		for _, text := range texts {
			batch.AddContent(genai.Text(text))
		}

		resp, err := model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return &Error{Provider: "gemini", Retryable: true, Err: err}
		}

		out := make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			values := e.Values
			if g.cfg.Normalize {
				values = normalize(values)
			}
			out[i] = values
		}
		result = out
		return nil
	})
	return result, err
}
