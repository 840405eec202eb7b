package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"stagehand/internal/config"
	"stagehand/internal/domain/repositories"
	"stagehand/internal/repository/postgres"
	"stagehand/internal/repository/sqlite"
	"stagehand/internal/seed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Parse command-line flags
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed data")
	clearData := flag.Bool("clear-data", false, "Clear all productions and assistants (keep schema)")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && (*dropTables || *clearData) {
		log.Fatalf("🚫 BLOCKED: Cannot run destructive operations (--drop-tables or --clear-data) in production environment")
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *clearData {
		log.Printf("🧹 Clearing data only (environment: %s, driver: %s)", cfg.Environment, cfg.StoreDriver)
	} else if *schemaOnly {
		log.Printf("🏗️  Setting up schema only (environment: %s, driver: %s)", cfg.Environment, cfg.StoreDriver)
	} else {
		log.Printf("🌱 Seeding database (environment: %s, driver: %s)", cfg.Environment, cfg.StoreDriver)
	}

	ctx := context.Background()

	var (
		productionRepo repositories.ProductionRepository
		turnRepo       repositories.TurnRepository
		assistantRepo  repositories.AssistantRepository
		txManager      repositories.TransactionManager
	)

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()

		tables := postgres.NewTableNames(cfg.TablePrefix)

		if *dropTables {
			log.Println("🗑️  Dropping all tables...")
			if err := dropAllTables(ctx, pool, tables); err != nil {
				log.Fatalf("Failed to drop tables: %v", err)
			}
			log.Println("✅ Tables dropped")
		}

		log.Println("📋 Ensuring database schema is up to date...")
		if err := runSchema(ctx, pool, tables, cfg.TablePrefix); err != nil {
			log.Fatalf("Failed to run schema: %v", err)
		}
		log.Println("✅ Schema ready")

		if *clearData {
			if err := clearAllData(ctx, pool, tables); err != nil {
				log.Fatalf("Failed to clear data: %v", err)
			}
			log.Println("✅ Data cleared successfully")
			return
		}

		repoConfig := &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: tables,
			Logger: logger,
		}
		productionRepo = postgres.NewProductionRepository(repoConfig)
		turnRepo = postgres.NewTurnRepository(repoConfig)
		assistantRepo = postgres.NewAssistantRepository(repoConfig)
		txManager = postgres.NewTransactionManager(pool)

	case config.StoreSQLite:
		if *dropTables {
			log.Printf("🗑️  Removing sqlite store %s...", cfg.SQLitePath)
			if err := os.Remove(cfg.SQLitePath); err != nil && !os.IsNotExist(err) {
				log.Fatalf("Failed to remove sqlite store: %v", err)
			}
		}

		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		defer db.Close()

		log.Println("📋 Ensuring database schema is up to date...")
		if err := sqlite.Migrate(db); err != nil {
			log.Fatalf("Failed to migrate sqlite store: %v", err)
		}
		log.Println("✅ Schema ready")

		if *clearData {
			for _, table := range []string{"turns", "productions", "assistants"} {
				if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
					log.Fatalf("Failed to clear %s: %v", table, err)
				}
			}
			log.Println("✅ Data cleared successfully")
			return
		}

		repoConfig := &sqlite.RepositoryConfig{
			DB:     db,
			Logger: logger,
		}
		productionRepo = sqlite.NewProductionRepository(repoConfig)
		turnRepo = sqlite.NewTurnRepository(repoConfig)
		assistantRepo = sqlite.NewAssistantRepository(repoConfig)
		txManager = sqlite.NewTransactionManager(db)

	default:
		log.Fatalf("Unknown STORE_DRIVER %q (want %q or %q)", cfg.StoreDriver, config.StorePostgres, config.StoreSQLite)
	}

	// Exit early if schema-only mode
	if *schemaOnly {
		log.Println("✅ Schema setup complete (schema-only mode)")
		return
	}

	seeder := seed.New(productionRepo, turnRepo, assistantRepo, txManager, cfg, logger)

	log.Println("🤖 Seeding assistants...")
	if err := seeder.SeedAssistants(ctx); err != nil {
		log.Fatalf("Failed to seed assistants: %v", err)
	}

	log.Println("🎭 Seeding demo production...")
	if err := seeder.SeedDemoProduction(ctx); err != nil {
		log.Fatalf("Failed to seed demo production: %v", err)
	}

	log.Println("🎉 Seeding complete!")
}

// runSchema creates tables if they don't exist
func runSchema(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames, tablePrefix string) error {
	// Create productions table. active_turn_id deliberately has no
	// foreign key: it points into turns, which references productions,
	// and the pointer is validated by the service layer.
	createProductions := `
		CREATE TABLE IF NOT EXISTS ` + tables.Productions + ` (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			scenario TEXT NOT NULL,
			active_turn_id UUID NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createProductions); err != nil {
		return err
	}

	// Create assistants table
	createAssistants := `
		CREATE TABLE IF NOT EXISTS ` + tables.Assistants + ` (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			persona TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			endpoint TEXT NULL,
			temperature DOUBLE PRECISION NULL,
			max_tokens INTEGER NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createAssistants); err != nil {
		return err
	}

	// Create turns table. Both foreign keys cascade: dropping a
	// production drops its forest, dropping a turn drops its subtree.
	createTurns := `
		CREATE TABLE IF NOT EXISTS ` + tables.Turns + ` (
			id UUID PRIMARY KEY,
			production_id UUID NOT NULL REFERENCES ` + tables.Productions + `(id) ON DELETE CASCADE,
			parent_id UUID REFERENCES ` + tables.Turns + `(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content JSONB NOT NULL DEFAULT '{}',
			is_directive BOOLEAN NOT NULL DEFAULT FALSE,
			sending_persona_id UUID NULL,
			receiving_assistant_id UUID NULL,
			assistant_id UUID NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createTurns); err != nil {
		return err
	}

	// Create indexes
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `turns_production_created ON ` + tables.Turns + `(production_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `turns_parent ON ` + tables.Turns + `(parent_id)`,
	}

	for _, indexSQL := range indexes {
		if _, err := pool.Exec(ctx, indexSQL); err != nil {
			return err
		}
	}

	return nil
}

// dropAllTables drops all tables in reverse order (to respect foreign keys)
func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	tableNames := []string{
		tables.Turns,
		tables.Productions,
		tables.Assistants,
	}

	for _, table := range tableNames {
		dropSQL := "DROP TABLE IF EXISTS " + table + " CASCADE"
		if _, err := pool.Exec(ctx, dropSQL); err != nil {
			return err
		}
		log.Printf("  ✓ Dropped %s", table)
	}

	return nil
}

// clearAllData deletes every row while keeping the schema
func clearAllData(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	// Turns first so the productions delete doesn't need the cascade
	for _, table := range []string{tables.Turns, tables.Productions, tables.Assistants} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
