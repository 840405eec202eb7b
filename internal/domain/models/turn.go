package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Assistant turn statuses. A streaming turn is a placeholder being filled
// by a live generation; it either reaches complete or is rolled back and
// deleted. User turns are always complete.
const (
	TurnStatusStreaming = "streaming"
	TurnStatusComplete  = "complete"
)

// Turn represents a single node in a production's conversation forest.
// Turns form a tree via parent_id; siblings are ordered by creation time.
//
// The user/assistant split is a tagged variant: role selects which of the
// role-specific fields are meaningful, and the constructors below are the
// only supported way to build a valid turn.
//   - user turns: IsDirective, SendingPersonaID, ReceivingAssistantID
//   - assistant turns: AssistantID, Status
type Turn struct {
	ID           string    `json:"id" db:"id"`
	ProductionID string    `json:"production_id" db:"production_id"`
	ParentID     *string   `json:"parent_id,omitempty" db:"parent_id"`
	Role         string    `json:"role" db:"role"` // "user" or "assistant"
	Content      TurnContent `json:"content" db:"content"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`

	// User-turn fields
	IsDirective          bool    `json:"is_directive,omitempty" db:"is_directive"`
	SendingPersonaID     *string `json:"sending_persona_id,omitempty" db:"sending_persona_id"`
	ReceivingAssistantID *string `json:"receiving_assistant_id,omitempty" db:"receiving_assistant_id"`

	// Assistant-turn fields
	AssistantID *string `json:"assistant_id,omitempty" db:"assistant_id"`
	Status      string  `json:"status" db:"status"` // "streaming" or "complete"
}

// NewUserTurn builds a user turn. receivingAssistantID names which
// assistant must answer next and is required even though that assistant
// has not replied yet.
func NewUserTurn(productionID string, parentID *string, content TurnContent, receivingAssistantID string, sendingPersonaID *string, isDirective bool) *Turn {
	return &Turn{
		ID:                   uuid.New().String(),
		ProductionID:         productionID,
		ParentID:             parentID,
		Role:                 RoleUser,
		Content:              content,
		CreatedAt:            time.Now().UTC(),
		IsDirective:          isDirective,
		SendingPersonaID:     sendingPersonaID,
		ReceivingAssistantID: &receivingAssistantID,
		Status:               TurnStatusComplete,
	}
}

// NewAssistantTurn builds a placeholder assistant turn in streaming
// status. Content stays empty until the generation fills it.
func NewAssistantTurn(productionID string, parentID *string, assistantID string) *Turn {
	return &Turn{
		ID:           uuid.New().String(),
		ProductionID: productionID,
		ParentID:     parentID,
		Role:         RoleAssistant,
		CreatedAt:    time.Now().UTC(),
		AssistantID:  &assistantID,
		Status:       TurnStatusStreaming,
	}
}

// Validate checks the role-variant rules. It is exhaustive over roles so
// a new role cannot be added without extending it.
func (t *Turn) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("turn id is empty")
	}
	if t.ProductionID == "" {
		return fmt.Errorf("turn %s has no production id", t.ID)
	}
	switch t.Role {
	case RoleUser:
		if t.ReceivingAssistantID == nil || *t.ReceivingAssistantID == "" {
			return fmt.Errorf("user turn %s has no receiving assistant", t.ID)
		}
		if t.AssistantID != nil {
			return fmt.Errorf("user turn %s carries an assistant id", t.ID)
		}
		if t.Status != TurnStatusComplete {
			return fmt.Errorf("user turn %s has status %q", t.ID, t.Status)
		}
	case RoleAssistant:
		if t.AssistantID == nil || *t.AssistantID == "" {
			return fmt.Errorf("assistant turn %s has no assistant id", t.ID)
		}
		if t.IsDirective {
			return fmt.Errorf("assistant turn %s marked as directive", t.ID)
		}
		if t.ReceivingAssistantID != nil {
			return fmt.Errorf("assistant turn %s carries a receiving assistant id", t.ID)
		}
		if t.Status != TurnStatusStreaming && t.Status != TurnStatusComplete {
			return fmt.Errorf("assistant turn %s has status %q", t.ID, t.Status)
		}
	default:
		return fmt.Errorf("turn %s has unknown role %q", t.ID, t.Role)
	}
	return nil
}

// IsStreamingPlaceholder reports whether this turn is currently the target
// of a live generation.
func (t *Turn) IsStreamingPlaceholder() bool {
	return t.Role == RoleAssistant && t.Status == TurnStatusStreaming
}
