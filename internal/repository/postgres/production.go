package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
)

// PostgresProductionRepository implements the ProductionRepository interface using PostgreSQL
type PostgresProductionRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewProductionRepository creates a new PostgresProductionRepository
func NewProductionRepository(config *RepositoryConfig) repositories.ProductionRepository {
	return &PostgresProductionRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateProduction creates a new production
func (r *PostgresProductionRepository) CreateProduction(ctx context.Context, production *models.Production) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, scenario, active_turn_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.tables.Productions)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		production.ID,
		production.Title,
		production.Scenario,
		production.ActiveTurnID,
		production.CreatedAt,
		production.UpdatedAt,
	)
	if err != nil {
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("production %s already exists", production.ID),
				ResourceType: "production",
				ResourceID:   production.ID,
			}
		}
		return fmt.Errorf("create production: %w", err)
	}

	return nil
}

// GetProduction retrieves a production by ID
func (r *PostgresProductionRepository) GetProduction(ctx context.Context, productionID string) (*models.Production, error) {
	query := fmt.Sprintf(`
		SELECT id, title, scenario, active_turn_id, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Productions)

	var production models.Production
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, productionID).Scan(
		&production.ID,
		&production.Title,
		&production.Scenario,
		&production.ActiveTurnID,
		&production.CreatedAt,
		&production.UpdatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("production %s: %w", productionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get production: %w", err)
	}

	return &production, nil
}

// ListProductions retrieves all productions, newest first
func (r *PostgresProductionRepository) ListProductions(ctx context.Context) ([]models.Production, error) {
	query := fmt.Sprintf(`
		SELECT id, title, scenario, active_turn_id, created_at, updated_at
		FROM %s
		ORDER BY updated_at DESC
	`, r.tables.Productions)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list productions: %w", err)
	}
	defer rows.Close()

	productions := make([]models.Production, 0)
	for rows.Next() {
		var production models.Production
		err := rows.Scan(
			&production.ID,
			&production.Title,
			&production.Scenario,
			&production.ActiveTurnID,
			&production.CreatedAt,
			&production.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan production row: %w", err)
		}
		productions = append(productions, production)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate productions: %w", err)
	}

	return productions, nil
}

// UpdateActiveTurn updates only the active_turn_id field. A non-nil turnID
// is validated to belong to the production in the same query; nil clears
// the pointer (empty tree).
func (r *PostgresProductionRepository) UpdateActiveTurn(ctx context.Context, productionID string, turnID *string) error {
	executor := GetExecutor(ctx, r.pool)

	if turnID == nil {
		query := fmt.Sprintf(`
			UPDATE %s
			SET active_turn_id = NULL, updated_at = $2
			WHERE id = $1
		`, r.tables.Productions)

		result, err := executor.Exec(ctx, query, productionID, time.Now())
		if err != nil {
			return fmt.Errorf("clear active_turn_id: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("production %s: %w", productionID, domain.ErrNotFound)
		}
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET active_turn_id = $1, updated_at = $2
		WHERE id = $3
		  AND EXISTS (
		    SELECT 1 FROM %s
		    WHERE id = $1 AND production_id = $3
		  )
	`, r.tables.Productions, r.tables.Turns)

	result, err := executor.Exec(ctx, query, *turnID, time.Now(), productionID)
	if err != nil {
		return fmt.Errorf("update active_turn_id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("production %s or turn %s: %w", productionID, *turnID, domain.ErrNotFound)
	}

	return nil
}

// DeleteProduction deletes a production. The turns table references
// productions with ON DELETE CASCADE, so the whole forest goes with it.
func (r *PostgresProductionRepository) DeleteProduction(ctx context.Context, productionID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Productions)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, productionID)
	if err != nil {
		return fmt.Errorf("delete production: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("production %s: %w", productionID, domain.ErrNotFound)
	}

	return nil
}
