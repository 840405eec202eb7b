package services

import (
	"context"

	"stagehand/internal/domain/models"
)

// AssistantService defines read access to the assistant roster.
// Assistants are seeded out of band; the API surface only lists them.
type AssistantService interface {
	// GetAssistant retrieves an assistant by ID
	GetAssistant(ctx context.Context, assistantID string) (*models.Assistant, error)

	// ListAssistants retrieves all assistants ordered by name
	ListAssistants(ctx context.Context) ([]models.Assistant, error)
}
