package gemini

import (
	"context"
	"fmt"

	genai "google.golang.org/genai"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
)

// Provider implements services.CompletionProvider for Gemini models via
// the official genai client. The client library does not expose token
// streaming in a way that fits our per-fragment pipeline, so the provider
// generates the full response and emits it as a single delta; the field
// tracker downstream handles a whole object in one fragment fine.
type Provider struct {
	client *genai.Client
}

// NewProvider creates a new Gemini provider with the given API key.
func NewProvider(ctx context.Context, apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return models.ProviderGemini
}

// StreamCompletion generates a response and replays it over the stream
// channel as one text delta followed by metadata.
func (p *Provider) StreamCompletion(ctx context.Context, req *services.ProviderRequest) (<-chan services.StreamEvent, error) {
	system, contents := convertMessages(req.Messages)

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxTokens)
	}

	eventChan := make(chan services.StreamEvent, 2)

	go func() {
		defer close(eventChan)

		resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
		if err != nil {
			if ctx.Err() != nil {
				eventChan <- services.StreamEvent{Error: ctx.Err()}
				return
			}
			eventChan <- services.StreamEvent{Error: &domain.UpstreamError{
				Message:  "gemini generation failed",
				Provider: p.Name(),
				Cause:    err,
			}}
			return
		}

		text := resp.Text()
		if text == "" {
			eventChan <- services.StreamEvent{Error: &domain.UpstreamError{
				Message:  "gemini returned an empty response",
				Provider: p.Name(),
			}}
			return
		}
		eventChan <- services.StreamEvent{TextDelta: text}

		metadata := &services.StreamMetadata{Model: req.Model}
		if len(resp.Candidates) > 0 {
			metadata.StopReason = string(resp.Candidates[0].FinishReason)
		}
		if resp.UsageMetadata != nil {
			metadata.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			metadata.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		eventChan <- services.StreamEvent{Metadata: metadata}
	}()

	return eventChan, nil
}

// convertMessages maps the linearized branch to genai contents. System
// messages are folded into the system instruction; Gemini uses "model"
// where we say "assistant".
func convertMessages(in []services.Message) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(in))

	for _, msg := range in {
		switch msg.Role {
		case services.MessageRoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text
		case services.MessageRoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Text}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Text}},
			})
		}
	}
	return system, contents
}
