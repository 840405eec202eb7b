package handler

import (
	"log/slog"
	"net/http"

	"stagehand/internal/capabilities"
	"stagehand/internal/config"
	"stagehand/internal/domain/models"
	"stagehand/internal/httputil"
)

// ModelsHandler handles HTTP requests for the model capability catalog
type ModelsHandler struct {
	config   *config.Config
	logger   *slog.Logger
	registry *capabilities.Registry
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(cfg *config.Config, logger *slog.Logger, registry *capabilities.Registry) *ModelsHandler {
	return &ModelsHandler{
		config:   cfg,
		logger:   logger,
		registry: registry,
	}
}

// ProviderResponse represents a provider with its models
type ProviderResponse struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Models []ModelResponse `json:"models"`
}

// ModelResponse represents a model's capabilities for the API response
type ModelResponse struct {
	ID               string  `json:"id"`
	DisplayName      string  `json:"display_name"`
	Description      string  `json:"description,omitempty"`
	ContextWindow    int     `json:"context_window"`
	MaxOutput        int     `json:"max_output"`
	Streaming        string  `json:"streaming"` // "token" or "single_shot"
	EnforcesJSONMode bool    `json:"enforces_json_mode"`
	InputPer1M       float64 `json:"input_per_1m"`
	OutputPer1M      float64 `json:"output_per_1m"`
}

// GetModels returns the model catalog for every provider that is usable
// with the current configuration. Lorem is always present so the UI has
// something to generate with on a fresh install.
// GET /api/models
func (h *ModelsHandler) GetModels(w http.ResponseWriter, r *http.Request) {
	var providers []ProviderResponse

	if h.config.AnthropicAPIKey != "" {
		h.appendProvider(&providers, models.ProviderAnthropic, "Anthropic")
	}
	if h.config.GeminiAPIKey != "" {
		h.appendProvider(&providers, models.ProviderGemini, "Gemini")
	}
	if h.config.OpenAICompatBaseURL != "" {
		h.appendProvider(&providers, models.ProviderOpenAICompat, "OpenAI-compatible")
	}
	h.appendProvider(&providers, models.ProviderLorem, "Lorem (mock)")

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
	})
}

// appendProvider converts one provider's catalog to the response format
func (h *ModelsHandler) appendProvider(providers *[]ProviderResponse, id, name string) {
	catalog, err := h.registry.ListProviderModels(id)
	if err != nil {
		h.logger.Warn("provider missing from capability catalog", "provider", id, "error", err)
		return
	}

	modelResponses := make([]ModelResponse, 0, len(catalog))
	for _, m := range catalog {
		modelResponses = append(modelResponses, ModelResponse{
			ID:               m.ID,
			DisplayName:      m.DisplayName,
			Description:      m.Description,
			ContextWindow:    m.ContextWindow,
			MaxOutput:        m.MaxOutput,
			Streaming:        string(m.Streaming),
			EnforcesJSONMode: m.EnforcesJSONMode,
			InputPer1M:       m.InputPrice,
			OutputPer1M:      m.OutputPrice,
		})
	}

	*providers = append(*providers, ProviderResponse{
		ID:     id,
		Name:   name,
		Models: modelResponses,
	})
}
