package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stagehand/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Productions string
	Turns       string
	Assistants  string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Productions: fmt.Sprintf("%sproductions", prefix),
		Turns:       fmt.Sprintf("%sturns", prefix),
		Assistants:  fmt.Sprintf("%sassistants", prefix),
	}
}

// CreateConnectionPool creates a pgx connection pool.
//
// Query execution mode: pgx defaults to prepared statements
// (QueryExecModeCacheStatement), which transaction-pooling PgBouncer
// deployments (port 6543 on hosted postgres) do not support. When that
// port is detected and the user did not pick a mode explicitly, the pool
// switches to QueryExecModeCacheDescribe: it keeps the extended protocol
// (needed to encode JSONB payloads like turn content) while caching only
// statement descriptions, which the pooler tolerates. An explicit
// ?default_query_exec_mode=... in the connection string always wins.
//
// Dynamic table prefixes (dev_, test_) are interpolated into the SQL
// before it reaches the server, so each environment gets its own
// statements and the prefixing stays compatible with every mode.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	// Configure pool size
	config.MaxConns = 25
	config.MinConns = 5

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the appropriate query executor for the context:
// the in-flight transaction when one is present, the pool otherwise.
// This is how repositories automatically participate in ExecTx.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}
