package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

func withVoyageServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	original := voyageBaseURL
	voyageBaseURL = srv.URL
	t.Cleanup(func() { voyageBaseURL = original })
}

func TestNewVoyageRequiresAPIKey(t *testing.T) {
	if _, err := NewVoyage(&config.EmbeddingsConfig{}); err == nil {
		t.Fatal("expected an error when no API key is configured")
	}
}

func TestVoyageEmbedBatchReturnsOneVectorPerInput(t *testing.T) {
	withVoyageServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req voyageRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := voyageResponse{}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{1, 2, 3}})
		}
		json.NewEncoder(w).Encode(resp)
	})

	v, err := NewVoyage(&config.EmbeddingsConfig{APIKey: "key", Model: "voyage-code-3"})
	if err != nil {
		t.Fatalf("NewVoyage: %v", err)
	}

	got, err := v.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(got))
	}
}

func TestVoyageEmbedSendsBearerAuthorization(t *testing.T) {
	var gotAuth string
	withVoyageServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(voyageResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{1, 2}}}})
	})

	v, err := NewVoyage(&config.EmbeddingsConfig{APIKey: "secret-key", Model: "voyage-code-3"})
	if err != nil {
		t.Fatalf("NewVoyage: %v", err)
	}
	if _, err := v.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("expected Bearer auth header, got %q", gotAuth)
	}
}

func TestVoyageEmbedRetriesOnRateLimit(t *testing.T) {
	attempts := 0
	withVoyageServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(voyageResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{1, 2}}}})
	})

	v, err := NewVoyage(&config.EmbeddingsConfig{APIKey: "key", Model: "voyage-code-3"})
	if err != nil {
		t.Fatalf("NewVoyage: %v", err)
	}
	if _, err := v.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("expected eventual success after a rate-limit retry, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestVoyageEmbedFailsOnMismatchedResultCount(t *testing.T) {
	withVoyageServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(voyageResponse{})
	})

	v, err := NewVoyage(&config.EmbeddingsConfig{APIKey: "key", Model: "voyage-code-3"})
	if err != nil {
		t.Fatalf("NewVoyage: %v", err)
	}
	if _, err := v.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected an error when the response has no data for the requested input")
	}
}
