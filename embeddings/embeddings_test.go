package embeddings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/normativa/lexgate/config"
)

func TestNewEmbedderDefaults(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOllama,
			Model:     "nomic-embed-text",
			Dimension: 768,
		},
		OllamaHost: "http://localhost:11434",
	}

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		t.Fatalf("expected embedder, got error: %v", err)
	}
	if embedder == nil {
		t.Fatal("expected non-nil embedder")
	}
}

func TestNewEmbedderOpenAIRequiresAPIKey(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
	}

	if _, err := NewEmbedder(cfg); err == nil {
		t.Fatal("expected error for missing OPENAI_API_KEY")
	}
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	cfg := config.Config{Embeddings: config.EmbeddingConfig{Provider: "vertex", Dimension: 768}}
	if _, err := NewEmbedder(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewEmbedderRequiresDimension(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider: config.ProviderOllama,
			Model:    "nomic-embed-text",
		},
		OllamaHost: "http://localhost:11434",
	}

	if _, err := NewEmbedder(cfg); err == nil || !strings.Contains(err.Error(), "dimension") {
		t.Fatalf("expected dimension error, got %v", err)
	}
}

func TestOllamaEmbedderEmbedsEachText(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	embedder := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Model: "nomic-embed-text", Dimension: 3})
	vectors, err := embedder.Embed(context.Background(), []string{"uno", "dos"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 || calls != 2 {
		t.Fatalf("expected 2 vectors from 2 calls, got %d vectors, %d calls", len(vectors), calls)
	}
	if len(vectors[0]) != 3 {
		t.Fatalf("vector dimension = %d, want 3", len(vectors[0]))
	}
}

func TestOllamaEmbedderRejectsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embedding":[0.1,0.2]}`))
	}))
	defer srv.Close()

	embedder := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Model: "nomic-embed-text", Dimension: 768})
	if _, err := embedder.Embed(context.Background(), []string{"uno"}); err == nil || !strings.Contains(err.Error(), "dimension mismatch") {
		t.Fatalf("expected dimension mismatch error, got %v", err)
	}
}

func TestOllamaEmbedderSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	embedder := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Model: "missing", Dimension: 768})
	if _, err := embedder.Embed(context.Background(), []string{"uno"}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}
