// Package seed populates a fresh store with a starter assistant roster
// and a demo production so the API is usable immediately after setup.
// Seeding is idempotent: rows are keyed by fixed IDs and existing rows
// are left untouched.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/repositories"
)

// Fixed IDs so repeated seeding runs converge on the same rows.
const (
	AssistantLoremID     = "aaaaaaaa-0000-0000-0000-000000000001"
	AssistantAnthropicID = "aaaaaaaa-0000-0000-0000-000000000002"
	AssistantGeminiID    = "aaaaaaaa-0000-0000-0000-000000000003"
	AssistantLocalID     = "aaaaaaaa-0000-0000-0000-000000000004"

	DemoProductionID = "bbbbbbbb-0000-0000-0000-000000000001"
)

// Seeder writes starter data through the repository layer, so the same
// code seeds both the Postgres and SQLite stores.
type Seeder struct {
	productions repositories.ProductionRepository
	turns       repositories.TurnRepository
	assistants  repositories.AssistantRepository
	txManager   repositories.TransactionManager
	cfg         *config.Config
	logger      *slog.Logger
}

// New creates a seeder.
func New(
	productions repositories.ProductionRepository,
	turns repositories.TurnRepository,
	assistants repositories.AssistantRepository,
	txManager repositories.TransactionManager,
	cfg *config.Config,
	logger *slog.Logger,
) *Seeder {
	return &Seeder{
		productions: productions,
		turns:       turns,
		assistants:  assistants,
		txManager:   txManager,
		cfg:         cfg,
		logger:      logger,
	}
}

// SeedAssistants creates the starter roster. The lorem assistant is
// always seeded so the system works without any API key; real-provider
// assistants are only seeded when their provider is configured.
func (s *Seeder) SeedAssistants(ctx context.Context) error {
	roster := []*models.Assistant{
		{
			ID:       AssistantLoremID,
			Name:     "Improv Partner",
			Persona:  "You are an enthusiastic improv partner. You accept every offer, heighten the scene, and never break character.",
			Provider: models.ProviderLorem,
			Model:    "lorem-medium",
		},
	}

	if s.cfg.AnthropicAPIKey != "" {
		temp := 0.9
		roster = append(roster, &models.Assistant{
			ID:          AssistantAnthropicID,
			Name:        "Verity Marlowe",
			Persona:     "You play Verity Marlowe, a sharp-tongued private investigator in 1947 Los Angeles. You are observant, weary, and quietly kind.",
			Provider:    models.ProviderAnthropic,
			Model:       "claude-sonnet-4-20250514",
			Temperature: &temp,
		})
	}

	if s.cfg.GeminiAPIKey != "" {
		roster = append(roster, &models.Assistant{
			ID:       AssistantGeminiID,
			Name:     "Archivist Yew",
			Persona:  "You play Archivist Yew, the last keeper of a drowned library. You speak in careful, precise sentences and treasure every question.",
			Provider: models.ProviderGemini,
			Model:    "gemini-2.5-flash",
		})
	}

	if s.cfg.OpenAICompatBaseURL != "" {
		maxTokens := 2048
		roster = append(roster, &models.Assistant{
			ID:        AssistantLocalID,
			Name:      "Understudy",
			Persona:   "You are a versatile understudy who can step into any role the scene demands.",
			Provider:  models.ProviderOpenAICompat,
			Model:     "local",
			MaxTokens: &maxTokens,
		})
	}

	for _, assistant := range roster {
		_, err := s.assistants.GetAssistant(ctx, assistant.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("check assistant %s: %w", assistant.ID, err)
		}
		assistant.CreatedAt = time.Now().UTC()
		if err := s.assistants.CreateAssistant(ctx, assistant); err != nil {
			return fmt.Errorf("create assistant %s: %w", assistant.Name, err)
		}
		s.logger.Info("seeded assistant",
			"assistant_id", assistant.ID,
			"name", assistant.Name,
			"provider", assistant.Provider,
		)
	}
	return nil
}

// SeedDemoProduction creates a small production with a branching turn
// tree against the lorem assistant:
//
//	user: opening line
//	└── assistant: reply
//	    ├── user: follow-up (active branch)
//	    │   └── assistant: reply
//	    └── user: alternate follow-up
//
// The active-turn pointer lands on the deepest turn of the first branch.
func (s *Seeder) SeedDemoProduction(ctx context.Context) error {
	if _, err := s.productions.GetProduction(ctx, DemoProductionID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("check demo production: %w", err)
	}

	now := time.Now().UTC()
	production := &models.Production{
		ID:        DemoProductionID,
		Title:     "Demo: The Midnight Train",
		Scenario:  "Two strangers share a sleeper compartment on an overnight train. A storm has stopped the train somewhere in the mountains.",
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Creation timestamps are spaced out so sibling order is stable.
	at := now
	tick := func() time.Time {
		at = at.Add(time.Second)
		return at
	}

	opening := s.userTurn(nil, "The lights flicker as the train grinds to a halt. \"Well,\" I say, peering out at the snow, \"it seems we're not going anywhere tonight.\"", tick())
	reply := s.assistantTurn(&opening.ID, models.TurnContent{
		Performance: "I lower my book and glance at the window, where the snow has already begun to pile against the glass. \"So it would seem. I don't suppose you packed cards?\"",
	}, tick())
	followUp := s.userTurn(&reply.ID, "\"Better than cards.\" I pull a battered thermos from my bag. \"Coffee. And a story, if you want one.\"", tick())
	followUpReply := s.assistantTurn(&followUp.ID, models.TurnContent{
		Performance: "\"A story on a stranded train, from a stranger with a thermos.\" I close the book entirely now. \"Go on, then. You have until the storm ends.\"",
	}, tick())
	alternate := s.userTurn(&reply.ID, "\"No cards.\" I hesitate, then nod at the book in your hands. \"But you could read aloud. It's going to be a long night.\"", tick())

	// All rows land in one transaction so a failure cannot leave a
	// partial demo tree behind.
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.productions.CreateProduction(ctx, production); err != nil {
			return fmt.Errorf("create demo production: %w", err)
		}
		for _, turn := range []*models.Turn{opening, reply, followUp, followUpReply, alternate} {
			if err := s.turns.CreateTurn(ctx, turn); err != nil {
				return fmt.Errorf("create demo turn %s: %w", turn.ID, err)
			}
		}
		return s.productions.UpdateActiveTurn(ctx, DemoProductionID, &followUpReply.ID)
	})
	if err != nil {
		return fmt.Errorf("seed demo production: %w", err)
	}

	s.logger.Info("seeded demo production",
		"production_id", DemoProductionID,
		"turns", 5,
		"active_turn_id", followUpReply.ID,
	)
	return nil
}

func (s *Seeder) userTurn(parentID *string, performance string, createdAt time.Time) *models.Turn {
	turn := models.NewUserTurn(
		DemoProductionID,
		parentID,
		models.TurnContent{Performance: performance},
		AssistantLoremID,
		nil,
		false,
	)
	turn.CreatedAt = createdAt
	return turn
}

func (s *Seeder) assistantTurn(parentID *string, content models.TurnContent, createdAt time.Time) *models.Turn {
	turn := models.NewAssistantTurn(DemoProductionID, parentID, AssistantLoremID)
	turn.Content = content
	turn.Status = models.TurnStatusComplete
	turn.CreatedAt = createdAt
	return turn
}
