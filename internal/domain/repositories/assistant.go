package repositories

import (
	"context"

	"stagehand/internal/domain/models"
)

// AssistantRepository defines the interface for assistant data access.
// Assistants are seeded by the surrounding application; this service only
// reads them (plus the create used by seeding).
type AssistantRepository interface {
	// CreateAssistant persists an assistant definition (seed path)
	CreateAssistant(ctx context.Context, assistant *models.Assistant) error

	// GetAssistant retrieves an assistant by ID
	// Returns domain.ErrNotFound if not found
	GetAssistant(ctx context.Context, assistantID string) (*models.Assistant, error)

	// ListAssistants retrieves all assistants in name order
	// Returns empty slice if none exist
	ListAssistants(ctx context.Context) ([]models.Assistant, error)
}
