package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

// Ollama talks to a local Ollama server's /api/embeddings endpoint via a
// direct net/http client: tuned transport, 4000-char prompt truncation,
// MRL truncation plus renormalization when the target dimension is below
// the model's native width.
type Ollama struct {
	cfg        *config.EmbeddingsConfig
	httpClient *http.Client
	baseURL    string
}

// NewOllama builds an Ollama provider from cfg.
func NewOllama(cfg *config.EmbeddingsConfig) (*Ollama, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
	}
	o := &Ollama{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport, Timeout: 60 * time.Second},
		baseURL:    cfg.OllamaURL,
	}
	if o.cfg.UseMRL && o.cfg.Dimension < o.cfg.FullDimension {
		log.Printf("embedding: ollama MRL enabled, %d -> %d dims (%.0f%% reduction)",
			o.cfg.FullDimension, o.cfg.Dimension, 100*(1-float64(o.cfg.Dimension)/float64(o.cfg.FullDimension)))
	}
	return o, nil
}

func (o *Ollama) ProviderID() string { return "ollama" }

func (o *Ollama) Dimension() int {
	if o.cfg.UseMRL && o.cfg.Dimension > 0 {
		return snapToValidDimension(o.cfg.Dimension)
	}
	return o.cfg.FullDimension
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates one embedding, truncating the prompt to stay within
// Ollama's practical context window.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > 4000 {
		text = text[:4000]
	}

	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: o.cfg.Model, Prompt: text})
	if err != nil {
		return nil, &Error{Provider: "ollama", Retryable: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, &Error{Provider: "ollama", Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: "ollama", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: "ollama", Retryable: true, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500
		return nil, &Error{Provider: "ollama", Retryable: retryable, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var embedResp ollamaEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, &Error{Provider: "ollama", Retryable: false, Err: err}
	}
	if len(embedResp.Embedding) != o.cfg.FullDimension {
		return nil, &Error{Provider: "ollama", Retryable: false,
			Err: fmt.Errorf("expected %d dimensions, got %d", o.cfg.FullDimension, len(embedResp.Embedding))}
	}

	embedding := embedResp.Embedding
	if o.cfg.UseMRL && o.cfg.Dimension < o.cfg.FullDimension {
		embedding = truncateMRL(embedding, o.cfg.Dimension)
	} else if o.cfg.Normalize {
		embedding = normalize(embedding)
	}
	return embedding, nil
}

// EmbedBatch fans out over a bounded number of concurrent requests,
// canceling the rest on the first error, since Ollama has no native batch
// endpoint.
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 1 {
		emb, err := o.withRetry(ctx, texts[0])
		if err != nil {
			return nil, err
		}
		return [][]float32{emb}, nil
	}

	results := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for i, text := range texts {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, t string) {
			defer wg.Done()
			defer func() { <-sem }()

			emb, err := o.withRetry(ctx, t)
			if err != nil {
				errs[idx] = err
				once.Do(func() {
					firstErr = err
					cancel()
				})
				return
			}
			results[idx] = emb
		}(i, text)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (o *Ollama) withRetry(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := withRetry(ctx, func() error {
		e, err := o.Embed(ctx, text)
		if err != nil {
			return err
		}
		embedding = e
		return nil
	})
	return embedding, err
}
