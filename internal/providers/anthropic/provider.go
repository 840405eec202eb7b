package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
)

const defaultMaxTokens = 4096

// Provider implements services.CompletionProvider for Claude models.
type Provider struct {
	client *anthropic.Client
}

// NewProvider creates a new Anthropic provider with the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return models.ProviderAnthropic
}

// StreamCompletion generates a streaming response from Claude. Leading
// system messages become the request's system prompt; the rest map to
// user and assistant turns.
func (p *Provider) StreamCompletion(ctx context.Context, req *services.ProviderRequest) (<-chan services.StreamEvent, error) {
	system, messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	apiParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		apiParams.Temperature = anthropic.Float(*req.Temperature)
	}
	if system != "" {
		apiParams.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	eventChan := make(chan services.StreamEvent, 10)

	go func() {
		defer close(eventChan)

		stream := p.client.Messages.NewStreaming(ctx, apiParams)

		// Accumulator for final message metadata
		message := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()

			if err := message.Accumulate(event); err != nil {
				eventChan <- services.StreamEvent{Error: &domain.UpstreamError{
					Message:  "failed to accumulate message",
					Provider: p.Name(),
					Cause:    err,
				}}
				return
			}

			var delta string
			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if e.Delta.Type == "text_delta" {
					delta = e.Delta.Text
				}
			}
			if delta == "" {
				continue
			}

			select {
			case <-ctx.Done():
				eventChan <- services.StreamEvent{Error: ctx.Err()}
				return
			case eventChan <- services.StreamEvent{TextDelta: delta}:
			}
		}

		if err := stream.Err(); err != nil {
			if ctx.Err() != nil {
				eventChan <- services.StreamEvent{Error: ctx.Err()}
				return
			}
			eventChan <- services.StreamEvent{Error: &domain.UpstreamError{
				Message:  "anthropic streaming error",
				Provider: p.Name(),
				Cause:    err,
			}}
			return
		}

		eventChan <- services.StreamEvent{Metadata: &services.StreamMetadata{
			Model:        string(message.Model),
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			StopReason:   string(message.StopReason),
		}}
	}()

	return eventChan, nil
}

// convertMessages splits the linearized branch into a system prompt and
// Anthropic message params. System messages after the first non-system
// message are folded into the system prompt as well; Claude accepts only
// one system block per request.
func convertMessages(in []services.Message) (string, []anthropic.MessageParam, error) {
	var system string
	result := make([]anthropic.MessageParam, 0, len(in))

	for i, msg := range in {
		switch msg.Role {
		case services.MessageRoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text
		case services.MessageRoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		case services.MessageRoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		default:
			return "", nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
	}

	if len(result) == 0 {
		return "", nil, errors.New("at least one user or assistant message is required")
	}
	return system, result, nil
}
