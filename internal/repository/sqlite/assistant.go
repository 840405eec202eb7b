package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
)

// SqliteAssistantRepository implements the AssistantRepository interface using SQLite
type SqliteAssistantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAssistantRepository creates a new SqliteAssistantRepository
func NewAssistantRepository(config *RepositoryConfig) repositories.AssistantRepository {
	return &SqliteAssistantRepository{
		db:     config.DB,
		logger: config.Logger,
	}
}

// CreateAssistant creates a new assistant
func (r *SqliteAssistantRepository) CreateAssistant(ctx context.Context, assistant *models.Assistant) error {
	query := `
		INSERT INTO assistants (id, name, persona, provider, model, endpoint, temperature, max_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		assistant.ID,
		assistant.Name,
		assistant.Persona,
		assistant.Provider,
		assistant.Model,
		assistant.Endpoint,
		assistant.Temperature,
		assistant.MaxTokens,
		formatTime(assistant.CreatedAt),
	)
	if err != nil {
		if IsDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("assistant '%s' already exists", assistant.Name),
				ResourceType: "assistant",
				ResourceID:   assistant.ID,
			}
		}
		return fmt.Errorf("create assistant: %w", err)
	}

	return nil
}

func (r *SqliteAssistantRepository) scanAssistantRow(row scanner) (*models.Assistant, error) {
	var assistant models.Assistant
	var createdAt string
	err := row.Scan(
		&assistant.ID,
		&assistant.Name,
		&assistant.Persona,
		&assistant.Provider,
		&assistant.Model,
		&assistant.Endpoint,
		&assistant.Temperature,
		&assistant.MaxTokens,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if assistant.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return &assistant, nil
}

// GetAssistant retrieves an assistant by ID
func (r *SqliteAssistantRepository) GetAssistant(ctx context.Context, assistantID string) (*models.Assistant, error) {
	query := `
		SELECT id, name, persona, provider, model, endpoint, temperature, max_tokens, created_at
		FROM assistants
		WHERE id = ?
	`

	executor := GetExecutor(ctx, r.db)
	assistant, err := r.scanAssistantRow(executor.QueryRowContext(ctx, query, assistantID))
	if err != nil {
		if IsNoRowsError(err) {
			return nil, fmt.Errorf("assistant %s: %w", assistantID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get assistant: %w", err)
	}

	return assistant, nil
}

// ListAssistants retrieves all assistants ordered by name
func (r *SqliteAssistantRepository) ListAssistants(ctx context.Context) ([]models.Assistant, error) {
	query := `
		SELECT id, name, persona, provider, model, endpoint, temperature, max_tokens, created_at
		FROM assistants
		ORDER BY name ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	defer rows.Close()

	assistants := make([]models.Assistant, 0)
	for rows.Next() {
		assistant, err := r.scanAssistantRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assistant row: %w", err)
		}
		assistants = append(assistants, *assistant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assistants: %w", err)
	}

	return assistants, nil
}
