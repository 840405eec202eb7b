package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
)

// SqliteTurnRepository implements the TurnRepository interface using SQLite
type SqliteTurnRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTurnRepository creates a new SqliteTurnRepository
func NewTurnRepository(config *RepositoryConfig) repositories.TurnRepository {
	return &SqliteTurnRepository{
		db:     config.DB,
		logger: config.Logger,
	}
}

const turnColumns = `id, production_id, parent_id, role, content, is_directive,
	sending_persona_id, receiving_assistant_id, assistant_id, status, created_at`

// CreateTurn persists a new turn row. IDs and timestamps are assigned by
// the turn constructors, so nothing round-trips back from the database.
func (r *SqliteTurnRepository) CreateTurn(ctx context.Context, turn *models.Turn) error {
	contentJSON, err := json.Marshal(turn.Content)
	if err != nil {
		return fmt.Errorf("encode turn content: %w", err)
	}

	isDirective := 0
	if turn.IsDirective {
		isDirective = 1
	}

	query := `
		INSERT INTO turns (
			id, production_id, parent_id, role, content, is_directive,
			sending_persona_id, receiving_assistant_id, assistant_id, status, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		turn.ID,
		turn.ProductionID,
		turn.ParentID,
		turn.Role,
		string(contentJSON),
		isDirective,
		turn.SendingPersonaID,
		turn.ReceivingAssistantID,
		turn.AssistantID,
		turn.Status,
		formatTime(turn.CreatedAt),
	)
	if err != nil {
		if IsForeignKeyError(err) {
			return fmt.Errorf("parent of turn %s: %w", turn.ID, domain.ErrNotFound)
		}
		if IsDuplicateError(err) {
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
	Scan(dest ...any) error
}

// scanTurnRow scans a database row into a Turn struct.
// Works with both *sql.Row and *sql.Rows.
func (r *SqliteTurnRepository) scanTurnRow(row scanner) (*models.Turn, error) {
	var turn models.Turn
	var contentJSON string
	var isDirective int
	var createdAt string
	err := row.Scan(
		&turn.ID,
		&turn.ProductionID,
		&turn.ParentID,
		&turn.Role,
		&contentJSON,
		&isDirective,
		&turn.SendingPersonaID,
		&turn.ReceivingAssistantID,
		&turn.AssistantID,
		&turn.Status,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	turn.IsDirective = isDirective != 0
	if contentJSON != "" {
		if err := json.Unmarshal([]byte(contentJSON), &turn.Content); err != nil {
			return nil, fmt.Errorf("decode turn content: %w", err)
		}
	}
	turn.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}

	return &turn, nil
}

// GetTurn retrieves a turn by ID
func (r *SqliteTurnRepository) GetTurn(ctx context.Context, turnID string) (*models.Turn, error) {
	query := fmt.Sprintf(`SELECT %s FROM turns WHERE id = ?`, turnColumns)

	executor := GetExecutor(ctx, r.db)
	turn, err := r.scanTurnRow(executor.QueryRowContext(ctx, query, turnID))
	if err != nil {
		if IsNoRowsError(err) {
			return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get turn: %w", err)
	}

	return turn, nil
}

// UpdateTurn updates a turn's mutable fields: content, assistant_id,
// is_directive, status. Parentage and role are deliberately absent.
func (r *SqliteTurnRepository) UpdateTurn(ctx context.Context, turn *models.Turn) error {
	contentJSON, err := json.Marshal(turn.Content)
	if err != nil {
		return fmt.Errorf("encode turn content: %w", err)
	}

	isDirective := 0
	if turn.IsDirective {
		isDirective = 1
	}

	query := `
		UPDATE turns
		SET content = ?, is_directive = ?, assistant_id = ?, status = ?
		WHERE id = ?
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		string(contentJSON),
		isDirective,
		turn.AssistantID,
		turn.Status,
		turn.ID,
	)
	if err != nil {
		return fmt.Errorf("update turn: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update turn: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("turn %s: %w", turn.ID, domain.ErrNotFound)
	}

	return nil
}

// DeleteTurn deletes a turn row. The parent_id foreign key is declared
// ON DELETE CASCADE, so the database removes the entire subtree with it.
func (r *SqliteTurnRepository) DeleteTurn(ctx context.Context, turnID string) error {
	query := `DELETE FROM turns WHERE id = ?`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, turnID)
	if err != nil {
		return fmt.Errorf("delete turn: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete turn: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}

	return nil
}

// ListTurns returns every turn of a production ordered by (created_at, id).
// created_at is fixed-width text, so the textual order is chronological.
func (r *SqliteTurnRepository) ListTurns(ctx context.Context, productionID string) ([]*models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM turns
		WHERE production_id = ?
		ORDER BY created_at ASC, id ASC
	`, turnColumns)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, productionID)
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
