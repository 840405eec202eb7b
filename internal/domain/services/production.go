package services

import (
	"context"

	"stagehand/internal/domain/models"
)

// ProductionService defines the business logic for production management
type ProductionService interface {
	// CreateProduction creates a new production with an empty turn forest
	CreateProduction(ctx context.Context, req *CreateProductionRequest) (*models.Production, error)

	// GetProduction retrieves a production by ID
	GetProduction(ctx context.Context, productionID string) (*models.Production, error)

	// ListProductions retrieves all productions, newest first
	ListProductions(ctx context.Context) ([]models.Production, error)

	// DeleteProduction deletes a production and its entire forest.
	// A live generation for the production is cancelled first.
	DeleteProduction(ctx context.Context, productionID string) error
}

// CreateProductionRequest is the DTO for creating a new production
type CreateProductionRequest struct {
	Title    string `json:"title"`
	Scenario string `json:"scenario"`
}
