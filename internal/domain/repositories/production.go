package repositories

import (
	"context"

	"stagehand/internal/domain/models"
)

// ProductionRepository defines the interface for production data access
type ProductionRepository interface {
	// CreateProduction creates a new production
	CreateProduction(ctx context.Context, production *models.Production) error

	// GetProduction retrieves a production by ID
	// Returns domain.ErrNotFound if not found
	GetProduction(ctx context.Context, productionID string) (*models.Production, error)

	// ListProductions retrieves all productions, newest first
	// Returns empty slice if none exist
	ListProductions(ctx context.Context) ([]models.Production, error)

	// UpdateActiveTurn sets the active-turn pointer. A nil turnID clears
	// the pointer (forest emptied).
	// Returns domain.ErrNotFound if the production does not exist
	UpdateActiveTurn(ctx context.Context, productionID string, turnID *string) error

	// DeleteProduction deletes a production; the turns foreign key
	// cascades so the whole forest goes with it.
	// Returns domain.ErrNotFound if not found
	DeleteProduction(ctx context.Context, productionID string) error
}
