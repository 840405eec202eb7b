package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stagehand/internal/capabilities"
	"stagehand/internal/config"
	"stagehand/internal/domain/repositories"
	"stagehand/internal/handler"
	"stagehand/internal/handler/sse"
	"stagehand/internal/middleware"
	"stagehand/internal/providers"
	"stagehand/internal/repository/postgres"
	"stagehand/internal/repository/sqlite"
	"stagehand/internal/service"
	"stagehand/internal/service/completion"
	"stagehand/internal/service/streaming"
	"stagehand/internal/service/turns"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

// repoSet bundles the store-specific repositories behind their domain
// interfaces so the rest of main is driver-agnostic.
type repoSet struct {
	productions repositories.ProductionRepository
	turnRows    repositories.TurnRepository
	assistants  repositories.AssistantRepository
}

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logOut := io.Writer(os.Stdout)
	if cfg.Debug {
		if f, err := config.SetupLogFile("logs", 5); err != nil {
			log.Printf("warning: debug log file unavailable: %v", err)
		} else {
			defer f.Close()
			logOut = io.MultiWriter(os.Stdout, f)
		}
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"store_driver", cfg.StoreDriver,
	)

	ctx := context.Background()

	// Open the turn store. Postgres for shared deployments, SQLite for
	// single-user local ones; both satisfy the same repository interfaces.
	var repos repoSet
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		tables := postgres.NewTableNames(cfg.TablePrefix)
		repoConfig := &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: tables,
			Logger: logger,
		}
		repos = repoSet{
			productions: postgres.NewProductionRepository(repoConfig),
			turnRows:    postgres.NewTurnRepository(repoConfig),
			assistants:  postgres.NewAssistantRepository(repoConfig),
		}
		logger.Info("database connected", "driver", "postgres", "table_prefix", cfg.TablePrefix)

	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		defer db.Close()

		if err := sqlite.Migrate(db); err != nil {
			log.Fatalf("Failed to migrate sqlite store: %v", err)
		}
		repoConfig := &sqlite.RepositoryConfig{
			DB:     db,
			Logger: logger,
		}
		repos = repoSet{
			productions: sqlite.NewProductionRepository(repoConfig),
			turnRows:    sqlite.NewTurnRepository(repoConfig),
			assistants:  sqlite.NewAssistantRepository(repoConfig),
		}
		logger.Info("database connected", "driver", "sqlite", "path", cfg.SQLitePath)

	default:
		log.Fatalf("Unknown STORE_DRIVER %q (want %q or %q)", cfg.StoreDriver, config.StorePostgres, config.StoreSQLite)
	}

	// Initialize capability registry
	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize capability registry: %v", err)
	}
	logger.Info("capability registry initialized")

	// Completion providers (lazily constructed per configured API key)
	providerRegistry := providers.NewRegistry(cfg, logger)

	// In-memory turn forests, rebuilt from the store on first touch
	forests, err := turns.NewForestManager(repos.turnRows, logger)
	if err != nil {
		log.Fatalf("Failed to create forest manager: %v", err)
	}

	// Live-generation registry: one generation per production, retains
	// finished executors briefly for late stream subscribers
	streamRegistry := streaming.NewRegistry()

	// Services
	turnService := turns.NewService(repos.turnRows, repos.productions, forests, streamRegistry, logger)
	completionService := completion.NewService(
		repos.turnRows,
		repos.productions,
		repos.assistants,
		forests,
		streamRegistry,
		providerRegistry,
		logger,
	)
	productionService := service.NewProductionService(repos.productions, forests, streamRegistry, logger)
	assistantService := service.NewAssistantService(repos.assistants)

	// Handlers
	productionHandler := handler.NewProductionHandler(productionService, logger)
	turnHandler := handler.NewTurnHandler(turnService, logger)
	completionHandler := handler.NewCompletionHandler(completionService, logger)
	assistantHandler := handler.NewAssistantHandler(assistantService, logger)
	modelsHandler := handler.NewModelsHandler(cfg, logger, capabilityRegistry)
	streamHandler := handler.NewStreamHandler(streamRegistry, sse.DefaultConfig(), logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", handler.HealthCheck)

	// Production routes
	mux.HandleFunc("POST /api/productions", productionHandler.CreateProduction)
	mux.HandleFunc("GET /api/productions", productionHandler.ListProductions)
	mux.HandleFunc("GET /api/productions/{id}", productionHandler.GetProduction)
	mux.HandleFunc("DELETE /api/productions/{id}", productionHandler.DeleteProduction)

	// Turn routes (production-scoped)
	mux.HandleFunc("GET /api/productions/{id}/turns", turnHandler.ListTurns)
	mux.HandleFunc("POST /api/productions/{id}/turns", turnHandler.CreateUserTurn)
	mux.HandleFunc("GET /api/productions/{id}/active-turn", turnHandler.GetActiveTurn)
	mux.HandleFunc("PUT /api/productions/{id}/active-turn", turnHandler.SetActiveTurn)
	mux.HandleFunc("POST /api/productions/{id}/navigate", turnHandler.Navigate)

	// Completion routes
	mux.HandleFunc("POST /api/productions/{id}/completions", completionHandler.CreateAssistantTurn)

	// Turn routes (turn-scoped)
	mux.HandleFunc("PATCH /api/turns/{id}", turnHandler.UpdateTurn)
	mux.HandleFunc("DELETE /api/turns/{id}", turnHandler.DeleteTurn)

	// Streaming routes
	mux.HandleFunc("GET /api/turns/{id}/stream", streamHandler.StreamTurn) // SSE streaming endpoint
	mux.HandleFunc("POST /api/turns/{id}/interrupt", completionHandler.InterruptTurn)

	// Assistant catalog routes
	mux.HandleFunc("GET /api/assistants", assistantHandler.ListAssistants)
	mux.HandleFunc("GET /api/assistants/{id}", assistantHandler.GetAssistant)

	// Model capabilities routes
	mux.HandleFunc("GET /api/models", modelsHandler.GetModels)

	// Build middleware chain
	var h http.Handler = mux
	h = middleware.Recovery(logger)(h)

	// CORS outermost so OPTIONS pre-flight requests short-circuit
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	// Graceful shutdown: stop accepting connections, then let streams
	// finish or time out
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown did not complete cleanly", "error", err)
		}
	}
}
