package services

import (
	"context"

	"stagehand/internal/domain/models"
	"stagehand/internal/httputil"
)

// TurnService defines the business logic for the turn forest of a
// production: reads, user-turn insertion, edits, deletes, the active
// pointer, and sibling navigation.
//
// Assistant turn generation lives on CompletionService; the two share
// the same per-production forests and locks.
type TurnService interface {
	// ListTurns returns every turn of a production ordered by (created_at, id)
	ListTurns(ctx context.Context, productionID string) ([]*models.Turn, error)

	// GetChildren returns the ordered children of parentID within a
	// production. A nil parentID returns the root turns of the forest.
	GetChildren(ctx context.Context, productionID string, parentID *string) ([]*models.Turn, error)

	// GetActiveTurn returns the production's active turn, or nil when the
	// forest is empty
	GetActiveTurn(ctx context.Context, productionID string) (*models.Turn, error)

	// SetActiveTurn points the production at an existing turn. It validates
	// membership only; callers decide depth via the navigation primitives.
	SetActiveTurn(ctx context.Context, productionID, turnID string) error

	// CreateUserTurn inserts a user turn under the current active turn
	// (or as a root when the forest is empty) and makes it active.
	// It never triggers generation; that is a separate call.
	CreateUserTurn(ctx context.Context, req *CreateUserTurnRequest) (*models.Turn, error)

	// UpdateTurn patches a turn's content sub-fields, assistant
	// attribution, or directive flag. Identity and parentage never change.
	// Returns ConflictError while the turn is a live streaming target.
	UpdateTurn(ctx context.Context, turnID string, req *UpdateTurnRequest) (*models.Turn, error)

	// DeleteTurn deletes a turn and all of its descendants. If the active
	// turn was inside the deleted subtree, the pointer is reset to the
	// deleted turn's parent (or cleared for a root).
	// Returns ConflictError while the subtree holds a live streaming target.
	DeleteTurn(ctx context.Context, turnID string) (*DeleteTurnResult, error)

	// Navigate steps the view to an adjacent sibling branch of the given
	// turn and returns the new active turn (the target branch's latest
	// descendant). Stepping past either end is a no-op that returns the
	// current active turn.
	Navigate(ctx context.Context, req *NavigateRequest) (*models.Turn, error)
}

// CreateUserTurnRequest is the DTO for inserting a user turn.
// ReceivingAssistantID names which assistant should answer next, so it is
// required even though that assistant has not replied yet.
type CreateUserTurnRequest struct {
	ProductionID         string  `json:"-"` // Set by handler from the URL path
	Performance          string  `json:"performance"`
	SendingPersonaID     *string `json:"sending_persona_id,omitempty"`
	ReceivingAssistantID string  `json:"receiving_assistant_id"`
	IsDirective          bool    `json:"is_directive"`
}

// UpdateTurnRequest is the DTO for patching a turn. Nil pointer fields are
// left unchanged; Vectors and Evolution replace their whole block. Meta
// uses tri-state semantics so it can be cleared with an explicit null.
type UpdateTurnRequest struct {
	Performance *string                 `json:"performance,omitempty"`
	Vectors     *models.Vectors         `json:"vectors,omitempty"`
	Evolution   *models.Evolution       `json:"evolution,omitempty"`
	Meta        httputil.OptionalString `json:"meta"`
	AssistantID *string                 `json:"assistant_id,omitempty"`
	IsDirective *bool                   `json:"is_directive,omitempty"`
}

// DeleteTurnResult reports what a cascade delete removed and where the
// active pointer ended up.
type DeleteTurnResult struct {
	DeletedIDs   []string `json:"deleted_ids"`
	ActiveTurnID *string  `json:"active_turn_id"`
}

// Navigation directions for sibling stepping.
const (
	NavigateBack    = "back"
	NavigateForward = "forward"
)

// NavigateRequest is the DTO for sibling navigation. TurnID names any turn
// on the boundary of interest; the step happens within its sibling group.
type NavigateRequest struct {
	ProductionID string `json:"-"` // Set by handler from the URL path
	TurnID       string `json:"turn_id"`
	Direction    string `json:"direction"`
}
