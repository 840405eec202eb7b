package service

import (
	"context"

	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
	"stagehand/internal/domain/services"
)

// AssistantService implements services.AssistantService as a thin
// read-through over the assistant repository. Assistants are seeded out
// of band and never mutated through the API.
type AssistantService struct {
	assistantRepo repositories.AssistantRepository
}

// NewAssistantService creates a new assistant service.
func NewAssistantService(assistantRepo repositories.AssistantRepository) *AssistantService {
	return &AssistantService{assistantRepo: assistantRepo}
}

// GetAssistant retrieves an assistant by ID.
func (s *AssistantService) GetAssistant(ctx context.Context, assistantID string) (*models.Assistant, error) {
	return s.assistantRepo.GetAssistant(ctx, assistantID)
}

// ListAssistants retrieves all assistants ordered by name.
func (s *AssistantService) ListAssistants(ctx context.Context) ([]models.Assistant, error) {
	return s.assistantRepo.ListAssistants(ctx)
}

var _ services.AssistantService = (*AssistantService)(nil)
