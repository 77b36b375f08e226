package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIEmbedderEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		resp := apiResponse{
			Data: []apiEmbeddingData{
				{Embedding: []float32{0.1, 0.2, 0.3}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIEmbedder(EmbedderConfig{
		Endpoint: srv.URL,
		Model:    "test-model",
		APIKey:   "test-key",
	})

	vectors, err := p.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vectors))
	}
	if len(vectors[0]) != 3 {
		t.Fatalf("got dimension %d, want 3", len(vectors[0]))
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIEmbedderEmbed_Empty(t *testing.T) {
	p := NewAPIEmbedder(EmbedderConfig{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 128,
	})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestAPIEmbedderDimension_Fallback(t *testing.T) {
	p := NewAPIEmbedder(EmbedderConfig{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 256,
	})

	if d := p.Dimension(); d != 256 {
		t.Errorf("got dimension %d, want configured default 256", d)
	}
}

func TestNewEmbedderSelectsImplementation(t *testing.T) {
	if _, ok := NewEmbedder(EmbedderConfig{Provider: "local"}).(*LocalEmbedder); !ok {
		t.Error("provider \"local\" should yield a LocalEmbedder")
	}
	if _, ok := NewEmbedder(EmbedderConfig{Provider: "api"}).(*APIEmbedder); !ok {
		t.Error("provider \"api\" should yield an APIEmbedder")
	}
}
