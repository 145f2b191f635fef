package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

var voyageBaseURL = "https://api.voyageai.com/v1/embeddings"

// Voyage talks to Voyage AI's REST embeddings endpoint. Like Ollama, no Go
// SDK for Voyage exists anywhere in scope, so this mirrors Ollama's raw
// net/http shape rather than introducing a bespoke client style.
type Voyage struct {
	cfg        *config.EmbeddingsConfig
	httpClient *http.Client
}

// NewVoyage builds a Voyage provider from cfg. Requires cfg.APIKey.
func NewVoyage(cfg *config.EmbeddingsConfig) (*Voyage, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("voyage embedding provider requires an API key")
	}
	return &Voyage{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (v *Voyage) ProviderID() string { return "voyage" }

func (v *Voyage) Dimension() int {
	if v.cfg.Dimension > 0 {
		return v.cfg.Dimension
	}
	return v.cfg.FullDimension
}

type voyageRequest struct {
	Input           []string `json:"input"`
	Model           string   `json:"model"`
	OutputDimension int      `json:"output_dimension,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (v *Voyage) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := v.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch uses Voyage's native batch endpoint directly, unlike Ollama
// which has none.
func (v *Voyage) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := withRetry(ctx, func() error {
		embeddings, err := v.doBatch(ctx, texts)
		if err != nil {
			return err
		}
		result = embeddings
		return nil
	})
	return result, err
}

func (v *Voyage) doBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(voyageRequest{
		Input:           texts,
		Model:           v.cfg.Model,
		OutputDimension: v.cfg.Dimension,
	})
	if err != nil {
		return nil, &Error{Provider: "voyage", Retryable: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, voyageBaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &Error{Provider: "voyage", Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: "voyage", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: "voyage", Retryable: true, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &Error{Provider: "voyage", Retryable: true, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Provider: "voyage", Retryable: false, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var parsed voyageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Provider: "voyage", Retryable: false, Err: err}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &Error{Provider: "voyage", Retryable: false,
			Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))}
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		emb := d.Embedding
		if v.cfg.Normalize {
			emb = normalize(emb)
		}
		out[i] = emb
	}
	return out, nil
}
