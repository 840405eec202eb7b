package models

import (
	"time"
)

// Provider names an assistant can be backed by.
const (
	ProviderOpenAICompat = "openai-compat"
	ProviderAnthropic    = "anthropic"
	ProviderGemini       = "gemini"
	ProviderLorem        = "lorem"
)

// Assistant is a persona + model pairing. The persona text frames the
// system preamble for every completion the assistant produces; provider
// and model select the upstream endpoint. Assistants are seeded by the
// surrounding application and are read-only through this service.
type Assistant struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Persona     string    `json:"persona" db:"persona"`
	Provider    string    `json:"provider" db:"provider"`
	Model       string    `json:"model" db:"model"`
	Endpoint    *string   `json:"endpoint,omitempty" db:"endpoint"` // openai-compat base URL override
	Temperature *float64  `json:"temperature,omitempty" db:"temperature"`
	MaxTokens   *int      `json:"max_tokens,omitempty" db:"max_tokens"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
