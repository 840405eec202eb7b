package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"stagehand/internal/config"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
	"stagehand/internal/providers/anthropic"
	"stagehand/internal/providers/gemini"
	"stagehand/internal/providers/lorem"
	"stagehand/internal/providers/openai_compat"
)

// Registry hands out completion providers by name, constructing each one
// lazily on first use. Construction is deferred so a server with only a
// subset of the API keys configured still starts; an assistant pointing
// at an unconfigured provider fails at generation time instead.
type Registry struct {
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]services.CompletionProvider
}

// NewRegistry creates a new provider registry.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		providers: make(map[string]services.CompletionProvider),
	}
}

// Get returns the provider with the given name, constructing it if this
// is the first request for it.
func (r *Registry) Get(name string) (services.CompletionProvider, error) {
	r.mu.RLock()
	provider, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return provider, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if provider, ok := r.providers[name]; ok {
		return provider, nil
	}

	provider, err := r.build(name)
	if err != nil {
		return nil, err
	}
	r.providers[name] = provider
	r.logger.Info("completion provider initialized", "provider", name)
	return provider, nil
}

func (r *Registry) build(name string) (services.CompletionProvider, error) {
	switch name {
	case models.ProviderOpenAICompat:
		return openai_compat.NewProvider(r.cfg.OpenAICompatBaseURL, r.cfg.OpenAICompatAPIKey), nil

	case models.ProviderAnthropic:
		return anthropic.NewProvider(r.cfg.AnthropicAPIKey)

	case models.ProviderGemini:
		return gemini.NewProvider(context.Background(), r.cfg.GeminiAPIKey)

	case models.ProviderLorem:
		return lorem.NewProvider(), nil

	default:
		return nil, fmt.Errorf("unknown completion provider %q", name)
	}
}
