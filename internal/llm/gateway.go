package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nikhilbhutani/docintel/internal/config"
)

var ErrProviderNotConfigured = errors.New("provider not configured")

type gateway struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewGateway registers every provider that has credentials. Ollama needs
// only a base URL.
func NewGateway(cfg config.VisionConfig) Gateway {
	g := &gateway{
		providers:       make(map[string]Provider),
		defaultProvider: cfg.Provider,
	}

	if cfg.OpenAIKey != "" {
		g.providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey, "")
	}
	if cfg.AnthropicKey != "" {
		g.providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicKey, "")
	}
	if cfg.OllamaURL != "" {
		g.providers["ollama"] = NewOllamaProvider(cfg.OllamaURL, cfg.Timeout)
	}

	return g
}

// NewGatewayWith builds a gateway over explicit providers.
func NewGatewayWith(defaultProvider string, providers ...Provider) Gateway {
	g := &gateway{
		providers:       make(map[string]Provider, len(providers)),
		defaultProvider: defaultProvider,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, name)
	}
	return p, nil
}

// Chat sends req to its named provider, or the default one. There is no
// retry: a failed call is reported to the caller as is.
func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}
	return p.ChatCompletion(ctx, req)
}

func (g *gateway) ListModels() []ModelInfo {
	var models []ModelInfo
	for _, p := range g.providers {
		for _, m := range p.Models() {
			models = append(models, ModelInfo{Provider: p.Name(), Model: m})
		}
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].Model < models[j].Model
	})
	return models
}
