package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"stagehand/internal/config"
	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
	"stagehand/internal/domain/services"
	"stagehand/internal/service/streaming"
	"stagehand/internal/service/turns"
)

// ProductionService implements services.ProductionService.
type ProductionService struct {
	productionRepo repositories.ProductionRepository
	forests        *turns.ForestManager
	registry       *streaming.Registry
	logger         *slog.Logger
}

// NewProductionService creates a new production service.
func NewProductionService(
	productionRepo repositories.ProductionRepository,
	forests *turns.ForestManager,
	registry *streaming.Registry,
	logger *slog.Logger,
) *ProductionService {
	return &ProductionService{
		productionRepo: productionRepo,
		forests:        forests,
		registry:       registry,
		logger:         logger,
	}
}

// CreateProduction creates a production with an empty forest and no
// active turn.
func (s *ProductionService) CreateProduction(ctx context.Context, req *services.CreateProductionRequest) (*models.Production, error) {
	err := validation.ValidateStruct(req,
		validation.Field(&req.Title, validation.Required, validation.Length(1, config.MaxProductionTitleLength)),
		validation.Field(&req.Scenario, validation.Length(0, config.MaxScenarioLength)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	now := time.Now().UTC()
	production := &models.Production{
		ID:        uuid.New().String(),
		Title:     req.Title,
		Scenario:  req.Scenario,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.productionRepo.CreateProduction(ctx, production); err != nil {
		return nil, err
	}

	s.logger.Info("production created", "production_id", production.ID, "title", production.Title)
	return production, nil
}

// GetProduction retrieves a production by ID.
func (s *ProductionService) GetProduction(ctx context.Context, productionID string) (*models.Production, error) {
	return s.productionRepo.GetProduction(ctx, productionID)
}

// ListProductions retrieves all productions, newest first.
func (s *ProductionService) ListProductions(ctx context.Context) ([]models.Production, error) {
	return s.productionRepo.ListProductions(ctx)
}

// DeleteProduction deletes a production and its entire forest. A live
// generation is cancelled first so its rollback cannot race the cascade.
func (s *ProductionService) DeleteProduction(ctx context.Context, productionID string) error {
	if _, err := s.productionRepo.GetProduction(ctx, productionID); err != nil {
		return err
	}

	if s.registry.InterruptProduction(productionID) {
		s.logger.Info("cancelled live generation before production delete", "production_id", productionID)
	}

	if err := s.productionRepo.DeleteProduction(ctx, productionID); err != nil {
		return err
	}
	s.forests.Drop(productionID)

	s.logger.Info("production deleted", "production_id", productionID)
	return nil
}
