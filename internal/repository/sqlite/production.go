package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
)

// SqliteProductionRepository implements the ProductionRepository interface using SQLite
type SqliteProductionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewProductionRepository creates a new SqliteProductionRepository
func NewProductionRepository(config *RepositoryConfig) repositories.ProductionRepository {
	return &SqliteProductionRepository{
		db:     config.DB,
		logger: config.Logger,
	}
}

// CreateProduction creates a new production
func (r *SqliteProductionRepository) CreateProduction(ctx context.Context, production *models.Production) error {
	query := `
		INSERT INTO productions (id, title, scenario, active_turn_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		production.ID,
		production.Title,
		production.Scenario,
		production.ActiveTurnID,
		formatTime(production.CreatedAt),
		formatTime(production.UpdatedAt),
	)
	if err != nil {
		if IsDuplicateError(err) {
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

func (r *SqliteProductionRepository) scanProductionRow(row scanner) (*models.Production, error) {
	var production models.Production
	var createdAt, updatedAt string
	err := row.Scan(
		&production.ID,
		&production.Title,
		&production.Scenario,
		&production.ActiveTurnID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if production.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if production.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &production, nil
}

// GetProduction retrieves a production by ID
func (r *SqliteProductionRepository) GetProduction(ctx context.Context, productionID string) (*models.Production, error) {
	query := `
		SELECT id, title, scenario, active_turn_id, created_at, updated_at
		FROM productions
		WHERE id = ?
	`

	executor := GetExecutor(ctx, r.db)
	production, err := r.scanProductionRow(executor.QueryRowContext(ctx, query, productionID))
	if err != nil {
		if IsNoRowsError(err) {
			return nil, fmt.Errorf("production %s: %w", productionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get production: %w", err)
	}

	return production, nil
}

// ListProductions retrieves all productions, newest first
func (r *SqliteProductionRepository) ListProductions(ctx context.Context) ([]models.Production, error) {
	query := `
		SELECT id, title, scenario, active_turn_id, created_at, updated_at
		FROM productions
		ORDER BY updated_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list productions: %w", err)
	}
	defer rows.Close()

	productions := make([]models.Production, 0)
	for rows.Next() {
		production, err := r.scanProductionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan production row: %w", err)
		}
		productions = append(productions, *production)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate productions: %w", err)
	}

	return productions, nil
}

// UpdateActiveTurn updates only the active_turn_id field. A non-nil turnID
// is validated to belong to the production in the same query; nil clears
// the pointer (empty tree).
func (r *SqliteProductionRepository) UpdateActiveTurn(ctx context.Context, productionID string, turnID *string) error {
	executor := GetExecutor(ctx, r.db)

	if turnID == nil {
		query := `
			UPDATE productions
			SET active_turn_id = NULL, updated_at = ?
			WHERE id = ?
		`

		result, err := executor.ExecContext(ctx, query, formatTime(time.Now()), productionID)
		if err != nil {
			return fmt.Errorf("clear active_turn_id: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("clear active_turn_id: rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("production %s: %w", productionID, domain.ErrNotFound)
		}
		return nil
	}

	query := `
		UPDATE productions
		SET active_turn_id = ?, updated_at = ?
		WHERE id = ?
		  AND EXISTS (
		    SELECT 1 FROM turns
		    WHERE id = ? AND production_id = ?
		  )
	`

	result, err := executor.ExecContext(ctx, query, *turnID, formatTime(time.Now()), productionID, *turnID, productionID)
	if err != nil {
		return fmt.Errorf("update active_turn_id: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update active_turn_id: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("production %s or turn %s: %w", productionID, *turnID, domain.ErrNotFound)
	}

	return nil
}

// DeleteProduction deletes a production. The turns table references
// productions with ON DELETE CASCADE, so the whole forest goes with it.
func (r *SqliteProductionRepository) DeleteProduction(ctx context.Context, productionID string) error {
	query := `DELETE FROM productions WHERE id = ?`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, productionID)
	if err != nil {
		return fmt.Errorf("delete production: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete production: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("production %s: %w", productionID, domain.ErrNotFound)
	}

	return nil
}
