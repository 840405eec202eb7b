package completion

import (
	"context"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
	"stagehand/internal/domain/services"
	"stagehand/internal/service/streaming"
	"stagehand/internal/service/turns"
	"stagehand/internal/turntree"
)

// ProviderSource resolves a provider name from an assistant row to a
// live completion provider.
type ProviderSource interface {
	Get(name string) (services.CompletionProvider, error)
}

// Service implements services.CompletionService: it owns placeholder
// creation, generation startup, and interruption. The heavy lifting
// happens on streaming executors; this service wires them to the forest
// and the store.
type Service struct {
	turnRepo       repositories.TurnRepository
	productionRepo repositories.ProductionRepository
	assistantRepo  repositories.AssistantRepository
	forests        *turns.ForestManager
	registry       *streaming.Registry
	providers      ProviderSource
	logger         *slog.Logger
}

// NewService creates the completion service.
func NewService(
	turnRepo repositories.TurnRepository,
	productionRepo repositories.ProductionRepository,
	assistantRepo repositories.AssistantRepository,
	forests *turns.ForestManager,
	registry *streaming.Registry,
	providers ProviderSource,
	logger *slog.Logger,
) *Service {
	return &Service{
		turnRepo:       turnRepo,
		productionRepo: productionRepo,
		assistantRepo:  assistantRepo,
		forests:        forests,
		registry:       registry,
		providers:      providers,
		logger:         logger,
	}
}

// CreateAssistantTurn creates a streaming placeholder under the requested
// parent and starts generation on a background context. Calling it again
// with the same parent and a different assistant creates a sibling; that
// is the regeneration path, and prior attempts are never touched.
func (s *Service) CreateAssistantTurn(ctx context.Context, req *services.CreateAssistantTurnRequest) (*services.CreateAssistantTurnResponse, error) {
	if err := validateCreateAssistantTurn(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	production, err := s.productionRepo.GetProduction(ctx, req.ProductionID)
	if err != nil {
		return nil, err
	}
	assistant, err := s.assistantRepo.GetAssistant(ctx, req.AssistantID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.Get(assistant.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: assistant %s: %v", domain.ErrValidation, assistant.ID, err)
	}

	parentID := req.ParentID
	if parentID == nil {
		parentID = production.ActiveTurnID
	}

	var placeholder *models.Turn
	err = s.forests.With(ctx, req.ProductionID, func(f *turntree.Forest) error {
		if parentID != nil && !f.Contains(*parentID) {
			return fmt.Errorf("parent turn %s: %w", *parentID, domain.ErrNotFound)
		}

		frame := BuildFrame(production, assistant)
		var messages []services.Message
		if parentID != nil {
			var lerr error
			messages, lerr = Linearize(f, *parentID, frame)
			if lerr != nil {
				return lerr
			}
		} else {
			messages = FrameOnly(frame)
		}

		turn := models.NewAssistantTurn(req.ProductionID, parentID, assistant.ID)
		request := &services.ProviderRequest{
			Model:       assistant.Model,
			Endpoint:    assistant.Endpoint,
			Messages:    messages,
			Temperature: assistant.Temperature,
			MaxTokens:   assistant.MaxTokens,
		}

		executor := streaming.NewExecutor(turn, assistant.Model, provider, request, streaming.Hooks{
			OnComplete: s.finalizeTurn,
			OnRollback: s.rollbackTurn,
		}, s.logger)

		if !s.registry.Register(executor) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("production %s already has a generation in flight", req.ProductionID),
				ResourceType: "production",
				ResourceID:   req.ProductionID,
			}
		}

		if err := s.turnRepo.CreateTurn(ctx, turn); err != nil {
			s.registry.Discard(executor)
			return err
		}
		if err := f.Insert(turn); err != nil {
			s.registry.Discard(executor)
			if delErr := s.turnRepo.DeleteTurn(ctx, turn.ID); delErr != nil {
				s.logger.Error("rollback of placeholder failed", "turn_id", turn.ID, "error", delErr)
			}
			return fmt.Errorf("index placeholder %s: %w", turn.ID, err)
		}

		executor.Start()
		placeholder = turn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("assistant turn started",
		"production_id", req.ProductionID,
		"assistant_id", assistant.ID,
		"turn_id", placeholder.ID,
		"provider", assistant.Provider,
	)
	return &services.CreateAssistantTurnResponse{
		Turn:      placeholder,
		StreamURL: fmt.Sprintf("/api/turns/%s/stream", placeholder.ID),
	}, nil
}

// InterruptTurn cancels the live generation filling turnID. The executor
// rolls the placeholder back; no partial turn survives.
func (s *Service) InterruptTurn(ctx context.Context, turnID string) error {
	executor, ok := s.registry.Lookup(turnID)
	if !ok || executor.Status() != streaming.StatusStreaming {
		return fmt.Errorf("no live generation for turn %s: %w", turnID, domain.ErrNotFound)
	}
	executor.Interrupt()
	s.logger.Info("generation interrupted", "turn_id", turnID)
	return nil
}

// finalizeTurn commits a finished generation: content and status on the
// turn row, then the active pointer. Runs on the executor goroutine.
func (s *Service) finalizeTurn(ctx context.Context, turn *models.Turn, content *models.TurnContent, _ *services.StreamMetadata) error {
	return s.forests.With(ctx, turn.ProductionID, func(f *turntree.Forest) error {
		indexed, ok := f.Get(turn.ID)
		if !ok {
			return fmt.Errorf("placeholder %s vanished from forest", turn.ID)
		}

		staged := *indexed
		staged.Content = *content
		staged.Status = models.TurnStatusComplete
		if err := s.turnRepo.UpdateTurn(ctx, &staged); err != nil {
			return err
		}
		*indexed = staged

		// The turn becomes active only now; during streaming the pointer
		// stayed put, so rollback never has to move it back.
		if err := s.productionRepo.UpdateActiveTurn(ctx, turn.ProductionID, &turn.ID); err != nil {
			return fmt.Errorf("set active turn: %w", err)
		}
		return nil
	})
}

// rollbackTurn removes the placeholder after a failed or cancelled
// generation. Best effort: the store delete is retried by nobody, but a
// leftover streaming row is also skipped by linearization and cleaned up
// by the next forest rebuild consumer that deletes it.
func (s *Service) rollbackTurn(ctx context.Context, turn *models.Turn) {
	err := s.forests.With(ctx, turn.ProductionID, func(f *turntree.Forest) error {
		f.Remove(turn.ID)
		return s.turnRepo.DeleteTurn(ctx, turn.ID)
	})
	if err != nil {
		s.logger.Error("placeholder rollback failed",
			"production_id", turn.ProductionID,
			"turn_id", turn.ID,
			"error", err,
		)
	}
}

func validateCreateAssistantTurn(req *services.CreateAssistantTurnRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ProductionID, validation.Required),
		validation.Field(&req.AssistantID, validation.Required),
	)
}
