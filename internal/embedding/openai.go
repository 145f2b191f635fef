package embedding

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

// OpenAI wraps sashabaranov/go-openai's embeddings endpoint.
type OpenAI struct {
	client *openai.Client
	cfg    *config.EmbeddingsConfig
}

// NewOpenAI builds an OpenAI provider from cfg. Requires cfg.APIKey.
func NewOpenAI(cfg *config.EmbeddingsConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedding provider requires an API key")
	}
	return &OpenAI{client: openai.NewClient(cfg.APIKey), cfg: cfg}, nil
}

func (o *OpenAI) ProviderID() string { return "openai" }

func (o *OpenAI) Dimension() int {
	if o.cfg.Dimension > 0 {
		return o.cfg.Dimension
	}
	return o.cfg.FullDimension
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := withRetry(ctx, func() error {
		embeddings, err := o.doBatch(ctx, texts)
		if err != nil {
			return err
		}
		result = embeddings
		return nil
	})
	return result, err
}

func (o *OpenAI) doBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.cfg.Model),
	}
	if o.cfg.Dimension > 0 {
		req.Dimensions = o.cfg.Dimension
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, &Error{Provider: "openai", Retryable: isRetryableOpenAIErr(err), Err: err}
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		emb := d.Embedding
		if o.cfg.Normalize {
			emb = normalize(emb)
		}
		out[i] = emb
	}
	return out, nil
}

func isRetryableOpenAIErr(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return true // network-level errors are presumed transient
}
