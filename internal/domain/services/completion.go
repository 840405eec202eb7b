package services

import (
	"context"

	"stagehand/internal/domain/models"
)

// CompletionService defines the business logic for assistant turn
// generation: placeholder creation, streaming orchestration, and
// interruption. At most one generation runs per production at a time.
type CompletionService interface {
	// CreateAssistantTurn creates a streaming placeholder turn under
	// ParentID and starts generation in the background. Returns
	// ConflictError if the production already has a live generation.
	// Calling it again with the same parent creates a sibling, which is
	// how regeneration works; prior attempts are never touched.
	CreateAssistantTurn(ctx context.Context, req *CreateAssistantTurnRequest) (*CreateAssistantTurnResponse, error)

	// InterruptTurn cancels the live generation targeting turnID.
	// The placeholder is rolled back; no partial turn survives.
	InterruptTurn(ctx context.Context, turnID string) error
}

// CreateAssistantTurnRequest is the DTO for requesting a completion.
// A nil ParentID attaches under the production's current active turn.
type CreateAssistantTurnRequest struct {
	ProductionID string  `json:"-"` // Set by handler from the URL path
	AssistantID  string  `json:"assistant_id"`
	ParentID     *string `json:"parent_id,omitempty"`
}

// CreateAssistantTurnResponse is the response DTO for CreateAssistantTurn
type CreateAssistantTurnResponse struct {
	Turn      *models.Turn `json:"turn"`
	StreamURL string       `json:"stream_url"` // Convenience URL for SSE streaming
}
