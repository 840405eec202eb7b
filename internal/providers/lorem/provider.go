package lorem

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
)

// Provider is a mock completion provider that streams lorem ipsum text
// wrapped in the structured response object. Used for development and
// testing without real API keys.
//
// Model name suffixes control behavior:
//   - lorem-fast:   30 chunks/second
//   - lorem-medium: 10 chunks/second (default)
//   - lorem-slow:   2 chunks/second
//   - lorem-fail:   errors partway through the stream
type Provider struct{}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return models.ProviderLorem
}

// getStreamDelay returns the delay between chunks based on the model name.
func getStreamDelay(model string) time.Duration {
	if strings.Contains(model, "slow") {
		return 500 * time.Millisecond
	}
	if strings.Contains(model, "fast") {
		return 33 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// isFailModel returns true if the model should simulate a mid-stream
// provider failure.
func isFailModel(model string) bool {
	return strings.Contains(model, "fail")
}

// StreamCompletion streams a generated structured response in small
// chunks, pacing by model name.
func (p *Provider) StreamCompletion(ctx context.Context, req *services.ProviderRequest) (<-chan services.StreamEvent, error) {
	full, err := buildResponseText(req.Model)
	if err != nil {
		return nil, err
	}

	delay := getStreamDelay(req.Model)
	fail := isFailModel(req.Model)
	chunks := chunkText(full, 8)

	eventChan := make(chan services.StreamEvent, 10)

	go func() {
		defer close(eventChan)

		outputTokens := 0
		for i, chunk := range chunks {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				eventChan <- services.StreamEvent{Error: ctx.Err()}
				return
			}

			if fail && i >= len(chunks)/2 {
				eventChan <- services.StreamEvent{Error: &domain.UpstreamError{
					Message:  "simulated mid-stream failure",
					Provider: p.Name(),
				}}
				return
			}

			outputTokens++
			select {
			case eventChan <- services.StreamEvent{TextDelta: chunk}:
			case <-ctx.Done():
				eventChan <- services.StreamEvent{Error: ctx.Err()}
				return
			}
		}

		eventChan <- services.StreamEvent{Metadata: &services.StreamMetadata{
			Model:        req.Model,
			InputTokens:  estimateTokens(req.Messages),
			OutputTokens: outputTokens,
			StopReason:   "end_turn",
		}}
	}()

	return eventChan, nil
}

// buildResponseText generates the full structured response object. It is
// marshalled up front so the streamed fragments always reassemble to
// valid JSON.
func buildResponseText(model string) (string, error) {
	gen := loremgen.New()

	response := map[string]any{
		"performance": gen.Paragraph(2, 4),
	}
	if !strings.Contains(model, "bare") {
		response["vectors"] = map[string]string{
			"location": gen.Sentence(3, 6),
			"posture":  gen.Sentence(3, 6),
		}
		response["meta"] = gen.Sentence(5, 10)
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// chunkText splits text into chunks of roughly size bytes. Splitting is
// byte-oriented on purpose: real providers break JSON mid-token too, and
// the consumer must cope.
func chunkText(text string, size int) []string {
	var chunks []string
	for len(text) > size {
		chunks = append(chunks, text[:size])
		text = text[size:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// estimateTokens approximates input token count by word count.
func estimateTokens(messages []services.Message) int {
	total := 0
	for _, m := range messages {
		total += len(strings.Fields(m.Text))
	}
	return total
}
