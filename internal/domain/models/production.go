package models

import (
	"time"
)

// Production represents one multi-turn conversation instance. Each
// production owns exactly one turn forest, and carries the active-turn
// pointer: the deepest node of the branch currently in view, or nil when
// the forest is empty.
type Production struct {
	ID           string    `json:"id" db:"id"`
	Title        string    `json:"title" db:"title"`
	Scenario     string    `json:"scenario" db:"scenario"`
	ActiveTurnID *string   `json:"active_turn_id,omitempty" db:"active_turn_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
