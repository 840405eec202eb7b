package turns

import (
	"context"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"stagehand/internal/config"
	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
	"stagehand/internal/domain/services"
	"stagehand/internal/turntree"
)

// StreamGuard reports which turns are live generation targets. The
// streaming registry implements it; the turn service consults it so
// edits and deletes never race a generation that is filling a turn.
type StreamGuard interface {
	// IsStreamingTarget reports whether turnID is being filled right now.
	IsStreamingTarget(turnID string) bool

	// LiveTurnForProduction returns the turn id of the production's live
	// generation, if one exists.
	LiveTurnForProduction(productionID string) (string, bool)
}

// Service implements services.TurnService. It is the only component that
// mutates the forest; the UI layer goes through it for every tree
// operation.
type Service struct {
	turnRepo       repositories.TurnRepository
	productionRepo repositories.ProductionRepository
	forests        *ForestManager
	guard          StreamGuard
	logger         *slog.Logger
}

// NewService creates the turn service.
func NewService(
	turnRepo repositories.TurnRepository,
	productionRepo repositories.ProductionRepository,
	forests *ForestManager,
	guard StreamGuard,
	logger *slog.Logger,
) *Service {
	return &Service{
		turnRepo:       turnRepo,
		productionRepo: productionRepo,
		forests:        forests,
		guard:          guard,
		logger:         logger,
	}
}

// ListTurns returns the production's flat turn list in (created_at, id)
// order, the same order the forest is rebuilt from.
func (s *Service) ListTurns(ctx context.Context, productionID string) ([]*models.Turn, error) {
	if _, err := s.productionRepo.GetProduction(ctx, productionID); err != nil {
		return nil, err
	}
	return s.turnRepo.ListTurns(ctx, productionID)
}

// GetChildren returns the ordered children of parentID within a
// production; a nil parentID returns the forest's top-level turns.
func (s *Service) GetChildren(ctx context.Context, productionID string, parentID *string) ([]*models.Turn, error) {
	var children []*models.Turn
	err := s.forests.With(ctx, productionID, func(f *turntree.Forest) error {
		if parentID != nil && !f.Contains(*parentID) {
			return fmt.Errorf("turn %s: %w", *parentID, domain.ErrNotFound)
		}
		ids := f.Children(parentID)
		children = make([]*models.Turn, 0, len(ids))
		for _, id := range ids {
			t, _ := f.Get(id)
			children = append(children, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// GetActiveTurn returns the production's active turn, or nil when the
// pointer is unset.
func (s *Service) GetActiveTurn(ctx context.Context, productionID string) (*models.Turn, error) {
	production, err := s.productionRepo.GetProduction(ctx, productionID)
	if err != nil {
		return nil, err
	}
	if production.ActiveTurnID == nil {
		return nil, nil
	}

	var active *models.Turn
	err = s.forests.With(ctx, productionID, func(f *turntree.Forest) error {
		t, ok := f.Get(*production.ActiveTurnID)
		if !ok {
			return fmt.Errorf("active turn %s missing from production %s forest", *production.ActiveTurnID, productionID)
		}
		active = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return active, nil
}

// SetActiveTurn points the production at an existing turn. Depth is the
// caller's concern; the navigation primitives decide what "deepest" means.
func (s *Service) SetActiveTurn(ctx context.Context, productionID, turnID string) error {
	if _, err := s.productionRepo.GetProduction(ctx, productionID); err != nil {
		return err
	}
	return s.forests.With(ctx, productionID, func(f *turntree.Forest) error {
		if !f.Contains(turnID) {
			return fmt.Errorf("turn %s in production %s: %w", turnID, productionID, domain.ErrNotFound)
		}
		return s.productionRepo.UpdateActiveTurn(ctx, productionID, &turnID)
	})
}

// CreateUserTurn inserts a user turn under the current active turn (or as
// a forest root) and makes it the new active turn. Generation is a
// separate operation so the UI can batch the two.
func (s *Service) CreateUserTurn(ctx context.Context, req *services.CreateUserTurnRequest) (*models.Turn, error) {
	if err := validateCreateUserTurn(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	production, err := s.productionRepo.GetProduction(ctx, req.ProductionID)
	if err != nil {
		return nil, err
	}

	var created *models.Turn
	err = s.forests.With(ctx, req.ProductionID, func(f *turntree.Forest) error {
		parentID := production.ActiveTurnID
		if parentID != nil && !f.Contains(*parentID) {
			return fmt.Errorf("active turn %s missing from production %s forest", *parentID, req.ProductionID)
		}

		content := models.TurnContent{Performance: req.Performance}
		turn := models.NewUserTurn(req.ProductionID, parentID, content, req.ReceivingAssistantID, req.SendingPersonaID, req.IsDirective)
		if err := turn.Validate(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}

		if err := s.turnRepo.CreateTurn(ctx, turn); err != nil {
			return err
		}
		if err := f.Insert(turn); err != nil {
			return fmt.Errorf("index turn %s: %w", turn.ID, err)
		}

		if err := s.productionRepo.UpdateActiveTurn(ctx, req.ProductionID, &turn.ID); err != nil {
			// Undo the optimistic insert so the forest matches the store.
			f.Remove(turn.ID)
			if delErr := s.turnRepo.DeleteTurn(ctx, turn.ID); delErr != nil {
				s.logger.Error("rollback of user turn failed", "turn_id", turn.ID, "error", delErr)
			}
			return fmt.Errorf("set active turn: %w", err)
		}

		created = turn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user turn created",
		"production_id", created.ProductionID,
		"turn_id", created.ID,
		"is_directive", created.IsDirective,
	)
	return created, nil
}

// UpdateTurn patches a turn's editable fields. The patch is staged on a
// copy, persisted, and only then committed to the forest, so a failed
// write leaves the index untouched.
func (s *Service) UpdateTurn(ctx context.Context, turnID string, req *services.UpdateTurnRequest) (*models.Turn, error) {
	if s.guard.IsStreamingTarget(turnID) {
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("turn %s is being generated; interrupt the stream before editing", turnID),
			ResourceType: "turn",
			ResourceID:   turnID,
		}
	}

	existing, err := s.turnRepo.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}

	var updated *models.Turn
	err = s.forests.With(ctx, existing.ProductionID, func(f *turntree.Forest) error {
		turn, ok := f.Get(turnID)
		if !ok {
			return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
		}

		staged := *turn
		staged.Content = *turn.Content.Clone()
		if err := applyPatch(&staged, req); err != nil {
			return err
		}
		if err := staged.Validate(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}

		if err := s.turnRepo.UpdateTurn(ctx, &staged); err != nil {
			return err
		}

		*turn = staged
		updated = turn
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteTurn removes a turn and its entire subtree. The active pointer is
// moved to the deleted turn's parent before the delete so it never
// dangles, and the forest snapshot is restored if the store delete fails.
func (s *Service) DeleteTurn(ctx context.Context, turnID string) (*services.DeleteTurnResult, error) {
	existing, err := s.turnRepo.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}

	production, err := s.productionRepo.GetProduction(ctx, existing.ProductionID)
	if err != nil {
		return nil, err
	}

	var result *services.DeleteTurnResult
	err = s.forests.With(ctx, existing.ProductionID, func(f *turntree.Forest) error {
		turn, ok := f.Get(turnID)
		if !ok {
			return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
		}

		subtree := f.Subtree(turnID)
		if liveID, streaming := s.guard.LiveTurnForProduction(existing.ProductionID); streaming {
			for _, id := range subtree {
				if id == liveID {
					return &domain.ConflictError{
						Message:      fmt.Sprintf("turn %s is being generated; interrupt the stream before deleting", liveID),
						ResourceType: "turn",
						ResourceID:   liveID,
					}
				}
			}
		}

		previousActive := production.ActiveTurnID
		activeInSubtree := false
		if previousActive != nil {
			for _, id := range subtree {
				if id == *previousActive {
					activeInSubtree = true
					break
				}
			}
		}

		newActive := previousActive
		if activeInSubtree {
			newActive = turn.ParentID
			if err := s.productionRepo.UpdateActiveTurn(ctx, existing.ProductionID, newActive); err != nil {
				return fmt.Errorf("reset active turn: %w", err)
			}
		}

		snapshot := f.Remove(turnID)
		if err := s.turnRepo.DeleteTurn(ctx, turnID); err != nil {
			f.Restore(snapshot)
			if activeInSubtree {
				if restoreErr := s.productionRepo.UpdateActiveTurn(ctx, existing.ProductionID, previousActive); restoreErr != nil {
					s.logger.Error("restore active turn failed", "production_id", existing.ProductionID, "error", restoreErr)
				}
			}
			return err
		}

		result = &services.DeleteTurnResult{
			DeletedIDs:   snapshot.IDs(),
			ActiveTurnID: newActive,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("turn subtree deleted",
		"production_id", existing.ProductionID,
		"turn_id", turnID,
		"deleted", len(result.DeletedIDs),
	)
	return result, nil
}

// Navigate steps the view to an adjacent sibling branch of req.TurnID and
// returns the new active turn, the target branch's latest descendant.
// Stepping past either end of the sibling group is a no-op.
func (s *Service) Navigate(ctx context.Context, req *services.NavigateRequest) (*models.Turn, error) {
	if err := validateNavigate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	production, err := s.productionRepo.GetProduction(ctx, req.ProductionID)
	if err != nil {
		return nil, err
	}
	if production.ActiveTurnID == nil {
		return nil, fmt.Errorf("%w: production %s has no active turn to navigate from", domain.ErrValidation, req.ProductionID)
	}

	delta := 1
	if req.Direction == services.NavigateBack {
		delta = -1
	}

	var active *models.Turn
	err = s.forests.With(ctx, req.ProductionID, func(f *turntree.Forest) error {
		if !f.Contains(req.TurnID) {
			return fmt.Errorf("turn %s in production %s: %w", req.TurnID, req.ProductionID, domain.ErrNotFound)
		}

		target, ok := turntree.SiblingStep(f, *production.ActiveTurnID, req.TurnID, delta)
		if !ok {
			// Past the end of the sibling group: leave the view alone.
			current, _ := f.Get(*production.ActiveTurnID)
			active = current
			return nil
		}

		if err := s.productionRepo.UpdateActiveTurn(ctx, req.ProductionID, &target); err != nil {
			return fmt.Errorf("set active turn: %w", err)
		}
		t, _ := f.Get(target)
		active = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return active, nil
}

func applyPatch(turn *models.Turn, req *services.UpdateTurnRequest) error {
	if req.Performance != nil {
		turn.Content.Performance = *req.Performance
	}
	if req.Vectors != nil {
		v := *req.Vectors
		turn.Content.Vectors = &v
	}
	if req.Evolution != nil {
		e := *req.Evolution
		turn.Content.Evolution = &e
	}
	if req.Meta.Present {
		if req.Meta.Value == nil {
			turn.Content.Meta = nil
		} else {
			m := *req.Meta.Value
			turn.Content.Meta = &m
		}
	}
	if req.AssistantID != nil {
		if turn.Role != models.RoleAssistant {
			return fmt.Errorf("%w: assistant_id is only editable on assistant turns", domain.ErrValidation)
		}
		id := *req.AssistantID
		turn.AssistantID = &id
	}
	if req.IsDirective != nil {
		if turn.Role != models.RoleUser {
			return fmt.Errorf("%w: is_directive is only editable on user turns", domain.ErrValidation)
		}
		turn.IsDirective = *req.IsDirective
	}
	return nil
}

func validateCreateUserTurn(req *services.CreateUserTurnRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ProductionID, validation.Required),
		validation.Field(&req.Performance, validation.Required, validation.Length(1, config.MaxPerformanceLength)),
		validation.Field(&req.ReceivingAssistantID, validation.Required),
	)
}

func validateNavigate(req *services.NavigateRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ProductionID, validation.Required),
		validation.Field(&req.TurnID, validation.Required),
		validation.Field(&req.Direction,
			validation.Required,
			validation.In(services.NavigateBack, services.NavigateForward),
		),
	)
}
