package repositories

import (
	"context"

	"stagehand/internal/domain/models"
)

// TurnRepository is the persistence boundary for turn rows. The turn
// service owns all tree semantics; implementations only store and return
// flat rows. Any relational or document store satisfying these operations
// suffices.
type TurnRepository interface {
	// CreateTurn persists a new turn row.
	CreateTurn(ctx context.Context, turn *models.Turn) error

	// GetTurn retrieves a turn by ID
	// Returns domain.ErrNotFound if not found
	GetTurn(ctx context.Context, turnID string) (*models.Turn, error)

	// UpdateTurn updates a turn's mutable fields: content, assistant_id,
	// is_directive, status. Identity and parentage never change.
	// Returns domain.ErrNotFound if not found
	UpdateTurn(ctx context.Context, turn *models.Turn) error

	// DeleteTurn deletes a turn row; the store's parent_id foreign key
	// cascades the delete to every descendant.
	// Returns domain.ErrNotFound if not found
	DeleteTurn(ctx context.Context, turnID string) error

	// ListTurns returns every turn of a production ordered by
	// (created_at, id), the flat list a forest is rebuilt from.
	// Returns empty slice if the production has no turns
	ListTurns(ctx context.Context, productionID string) ([]*models.Turn, error)
}
