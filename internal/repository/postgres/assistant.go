package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
)

// PostgresAssistantRepository implements the AssistantRepository interface using PostgreSQL
type PostgresAssistantRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewAssistantRepository creates a new PostgresAssistantRepository
func NewAssistantRepository(config *RepositoryConfig) repositories.AssistantRepository {
	return &PostgresAssistantRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateAssistant creates a new assistant
func (r *PostgresAssistantRepository) CreateAssistant(ctx context.Context, assistant *models.Assistant) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, persona, provider, model, endpoint, temperature, max_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.tables.Assistants)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		assistant.ID,
		assistant.Name,
		assistant.Persona,
		assistant.Provider,
		assistant.Model,
		assistant.Endpoint,
		assistant.Temperature,
		assistant.MaxTokens,
		assistant.CreatedAt,
	)
	if err != nil {
		if IsPgDuplicateError(err) {
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

// GetAssistant retrieves an assistant by ID
func (r *PostgresAssistantRepository) GetAssistant(ctx context.Context, assistantID string) (*models.Assistant, error) {
	query := fmt.Sprintf(`
		SELECT id, name, persona, provider, model, endpoint, temperature, max_tokens, created_at
		FROM %s
		WHERE id = $1
	`, r.tables.Assistants)

	var assistant models.Assistant
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, assistantID).Scan(
		&assistant.ID,
		&assistant.Name,
		&assistant.Persona,
		&assistant.Provider,
		&assistant.Model,
		&assistant.Endpoint,
		&assistant.Temperature,
		&assistant.MaxTokens,
		&assistant.CreatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("assistant %s: %w", assistantID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get assistant: %w", err)
	}

	return &assistant, nil
}

// ListAssistants retrieves all assistants ordered by name
func (r *PostgresAssistantRepository) ListAssistants(ctx context.Context) ([]models.Assistant, error) {
	query := fmt.Sprintf(`
		SELECT id, name, persona, provider, model, endpoint, temperature, max_tokens, created_at
		FROM %s
		ORDER BY name ASC
	`, r.tables.Assistants)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	defer rows.Close()

	assistants := make([]models.Assistant, 0)
	for rows.Next() {
		var assistant models.Assistant
		err := rows.Scan(
			&assistant.ID,
			&assistant.Name,
			&assistant.Persona,
			&assistant.Provider,
			&assistant.Model,
			&assistant.Endpoint,
			&assistant.Temperature,
			&assistant.MaxTokens,
			&assistant.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan assistant row: %w", err)
		}
		assistants = append(assistants, assistant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assistants: %w", err)
	}

	return assistants, nil
}
