package services

import (
	"context"
)

// Message roles used when linearizing a branch for a provider request.
const (
	MessageRoleSystem    = "system"
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// CompletionProvider is the interface all model providers implement.
// Providers emit raw text fragments of a single JSON object; parsing the
// object into structured turn content happens downstream and is identical
// for every provider.
type CompletionProvider interface {
	// StreamCompletion starts a completion and returns a channel of stream
	// events. The channel is closed when the stream ends; the final event
	// before a clean close carries Metadata. Cancelling ctx stops the
	// stream.
	StreamCompletion(ctx context.Context, req *ProviderRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g. "anthropic", "openai_compat")
	Name() string
}

// ProviderRequest contains the parameters for a completion request.
type ProviderRequest struct {
	// Model is the provider-specific model identifier
	Model string

	// Endpoint optionally overrides the provider's base URL. Only the
	// openai-compat provider honors it; assistant rows may point at any
	// chat-completions server.
	Endpoint *string

	// Messages is the linearized branch, oldest first
	Messages []Message

	// Temperature and MaxTokens are optional overrides from the
	// assistant's configuration
	Temperature *float64
	MaxTokens   *int
}

// Message is a single linearized turn.
type Message struct {
	Role string
	Text string
}

// StreamEvent is one event from a provider stream. Exactly one of the
// fields is meaningful per event.
type StreamEvent struct {
	// TextDelta is a raw fragment of the response text
	TextDelta string

	// Metadata arrives once, after the last delta of a successful stream
	Metadata *StreamMetadata

	// Error terminates the stream
	Error error
}

// StreamMetadata carries final stream accounting.
type StreamMetadata struct {
	Model        string
	InputTokens  int
	OutputTokens int
	StopReason   string
}
