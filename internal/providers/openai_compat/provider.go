package openai_compat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
)

const defaultChatPath = "/v1/chat/completions"

// Provider implements services.CompletionProvider against any server that
// speaks the OpenAI chat completions dialect. The base URL comes from
// configuration but an assistant may override it per request.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewProvider creates a new OpenAI-compatible provider.
func NewProvider(baseURL, apiKey string) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			// No overall timeout: streams are long-lived and bounded by
			// the request context instead.
			Timeout: 0,
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return models.ProviderOpenAICompat
}

// StreamCompletion starts a streaming chat completion and returns a
// channel of stream events.
func (p *Provider) StreamCompletion(ctx context.Context, req *services.ProviderRequest) (<-chan services.StreamEvent, error) {
	endpoint := p.baseURL
	if req.Endpoint != nil && *req.Endpoint != "" {
		endpoint = strings.TrimRight(*req.Endpoint, "/")
	}
	if endpoint == "" {
		return nil, &domain.UpstreamError{
			Message:  "no endpoint configured for openai-compat provider",
			Provider: p.Name(),
		}
	}

	payload := Request{
		Model:          req.Model,
		Messages:       convertMessages(req.Messages),
		Stream:         true,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}
	if req.Temperature != nil {
		payload.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		payload.MaxTokens = *req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+defaultChatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &domain.UpstreamError{
			Message:  "completion endpoint unreachable",
			Provider: p.Name(),
			Cause:    err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.statusError(resp)
	}

	eventChan := make(chan services.StreamEvent, 10)
	go p.readStream(ctx, resp.Body, eventChan)
	return eventChan, nil
}

// readStream parses SSE lines off the response body and forwards deltas.
// The stream ends on "[DONE]", EOF, or context cancellation.
func (p *Provider) readStream(ctx context.Context, body io.ReadCloser, eventChan chan<- services.StreamEvent) {
	defer close(eventChan)
	defer body.Close()

	var (
		model        string
		usage        *Usage
		stopReason   string
		outputTokens int
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			p.send(ctx, eventChan, services.StreamEvent{Error: ctx.Err()})
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.send(ctx, eventChan, services.StreamEvent{Error: &domain.UpstreamError{
				Message:  "malformed stream chunk",
				Provider: p.Name(),
				Cause:    err,
			}})
			return
		}

		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				stopReason = choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			outputTokens++
			if !p.send(ctx, eventChan, services.StreamEvent{TextDelta: choice.Delta.Content}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			p.send(ctx, eventChan, services.StreamEvent{Error: ctx.Err()})
			return
		}
		p.send(ctx, eventChan, services.StreamEvent{Error: &domain.UpstreamError{
			Message:  "stream read failed",
			Provider: p.Name(),
			Cause:    err,
		}})
		return
	}

	metadata := &services.StreamMetadata{
		Model:        model,
		StopReason:   stopReason,
		OutputTokens: outputTokens,
	}
	if usage != nil {
		metadata.InputTokens = usage.PromptTokens
		metadata.OutputTokens = usage.CompletionTokens
	}
	p.send(ctx, eventChan, services.StreamEvent{Metadata: metadata})
}

// send delivers an event unless the consumer has gone away.
func (p *Provider) send(ctx context.Context, eventChan chan<- services.StreamEvent, event services.StreamEvent) bool {
	select {
	case eventChan <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// statusError converts a non-200 response into an UpstreamError, pulling
// the server's message out of the error envelope when it has one.
func (p *Provider) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))

	message := fmt.Sprintf("completion endpoint returned status %d", resp.StatusCode)
	var envelope ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		message = fmt.Sprintf("%s: %s", message, envelope.Error.Message)
	}

	return &domain.UpstreamError{
		Message:  message,
		Provider: p.Name(),
	}
}

func convertMessages(messages []services.Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, Message{Role: m.Role, Content: m.Text})
	}
	return out
}
