// Package generation is the boundary to the external text-generation service.
// The service receives the query and the assembled grounding context and
// returns free text that is treated as untrusted until the hierarchy
// validator has checked it. Any provider error or timeout surfaces as
// ErrGenerationFailure, which the orchestrator converts into abstention.
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/normativa/lexgate/config"
)

// ErrGenerationFailure marks an unusable generation result.
var ErrGenerationFailure = errors.New("generation failure")

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.Generation.Provider,
		Model:         cfg.Generation.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", opts.Provider)
	}
}
