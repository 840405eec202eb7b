package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
)

// PostgresTurnRepository implements the TurnRepository interface using PostgreSQL
type PostgresTurnRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewTurnRepository creates a new PostgresTurnRepository
func NewTurnRepository(config *RepositoryConfig) repositories.TurnRepository {
	return &PostgresTurnRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// turnColumns is the canonical column list shared by every turn query.
const turnColumns = `id, production_id, parent_id, role, content, is_directive,
	sending_persona_id, receiving_assistant_id, assistant_id, status, created_at`

// CreateTurn persists a new turn row. IDs and timestamps are assigned by
// the turn constructors, so nothing round-trips back from the database.
func (r *PostgresTurnRepository) CreateTurn(ctx context.Context, turn *models.Turn) error {
	contentJSON, err := json.Marshal(turn.Content)
	if err != nil {
		return fmt.Errorf("encode turn content: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, production_id, parent_id, role, content, is_directive,
			sending_persona_id, receiving_assistant_id, assistant_id, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.tables.Turns)

	executor := GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		turn.ID,
		turn.ProductionID,
		turn.ParentID,
		turn.Role,
		contentJSON,
		turn.IsDirective,
		turn.SendingPersonaID,
		turn.ReceivingAssistantID,
		turn.AssistantID,
		turn.Status,
		turn.CreatedAt,
	)
	if err != nil {
		if IsPgForeignKeyError(err) {
			return fmt.Errorf("parent of turn %s: %w", turn.ID, domain.ErrNotFound)
		}
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("turn %s already exists", turn.ID),
				ResourceType: "turn",
				ResourceID:   turn.ID,
			}
		}
		return fmt.Errorf("create turn: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTurnRow scans a database row into a Turn struct.
// Works with both pgx.Row (from QueryRow) and pgx.Rows (from Query).
func (r *PostgresTurnRepository) scanTurnRow(row scanner) (*models.Turn, error) {
	var turn models.Turn
	var contentJSON []byte
	err := row.Scan(
		&turn.ID,
		&turn.ProductionID,
		&turn.ParentID,
		&turn.Role,
		&contentJSON,
		&turn.IsDirective,
		&turn.SendingPersonaID,
		&turn.ReceivingAssistantID,
		&turn.AssistantID,
		&turn.Status,
		&turn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(contentJSON) > 0 {
		if err := json.Unmarshal(contentJSON, &turn.Content); err != nil {
			return nil, fmt.Errorf("decode turn content: %w", err)
		}
	}
	return &turn, nil
}

// GetTurn retrieves a turn by ID
func (r *PostgresTurnRepository) GetTurn(ctx context.Context, turnID string) (*models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, turnColumns, r.tables.Turns)

	executor := GetExecutor(ctx, r.pool)
	turn, err := r.scanTurnRow(executor.QueryRow(ctx, query, turnID))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get turn: %w", err)
	}

	return turn, nil
}

// UpdateTurn updates a turn's mutable fields: content, assistant_id,
// is_directive, status. Parentage and role are deliberately absent.
func (r *PostgresTurnRepository) UpdateTurn(ctx context.Context, turn *models.Turn) error {
	contentJSON, err := json.Marshal(turn.Content)
	if err != nil {
		return fmt.Errorf("encode turn content: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $2, is_directive = $3, assistant_id = $4, status = $5
		WHERE id = $1
	`, r.tables.Turns)

	executor := GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query,
		turn.ID,
		contentJSON,
		turn.IsDirective,
		turn.AssistantID,
		turn.Status,
	)
	if err != nil {
		return fmt.Errorf("update turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("turn %s: %w", turn.ID, domain.ErrNotFound)
	}

	return nil
}

// DeleteTurn deletes a turn row. The parent_id foreign key is declared
// ON DELETE CASCADE, so the database removes the entire subtree with it.
func (r *PostgresTurnRepository) DeleteTurn(ctx context.Context, turnID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Turns)

	executor := GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, query, turnID)
	if err != nil {
		return fmt.Errorf("delete turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}

	return nil
}

// ListTurns returns every turn of a production ordered by (created_at, id).
// This is the flat list the in-memory forest is rebuilt from, so the order
// must stay deterministic under equal timestamps.
func (r *PostgresTurnRepository) ListTurns(ctx context.Context, productionID string) ([]*models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE production_id = $1
		ORDER BY created_at ASC, id ASC
	`, turnColumns, r.tables.Turns)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, productionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]*models.Turn, 0)
	for rows.Next() {
		turn, err := r.scanTurnRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return turns, nil
}
