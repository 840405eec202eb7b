package models

// Top-level field names of the structured turn payload. These are the
// units of streaming progress: the field tracker reports each one as it
// starts arriving and again when its value can no longer change.
const (
	FieldPerformance = "performance"
	FieldVectors     = "vectors"
	FieldEvolution   = "evolution"
	FieldMeta        = "meta"
)

// TopLevelFields returns the known payload fields in schema order.
func TopLevelFields() []string {
	return []string{FieldPerformance, FieldVectors, FieldEvolution, FieldMeta}
}

// Vectors captures the spatial/physical state an assistant reports for its
// character. All sub-fields are optional.
type Vectors struct {
	Location *string `json:"location,omitempty"`
	Posture  *string `json:"posture,omitempty"`
	Direction *string `json:"direction,omitempty"`
	Momentum *string `json:"momentum,omitempty"`
}

// Evolution captures character-state deltas the assistant wants carried
// forward: how it sees itself, what it privately knows, and a note to its
// future self. All sub-fields are optional.
type Evolution struct {
	SelfPerception   *string `json:"self_perception,omitempty"`
	PrivateKnowledge *string `json:"private_knowledge,omitempty"`
	NoteToFutureSelf *string `json:"note_to_future_self,omitempty"`
}

// TurnContent is the structured payload of a turn. Performance is the
// in-fiction text and is required on every finalized turn; the remaining
// fields are optional extras an assistant may emit.
type TurnContent struct {
	Performance string     `json:"performance"`
	Vectors     *Vectors   `json:"vectors,omitempty"`
	Evolution   *Evolution `json:"evolution,omitempty"`
	Meta        *string    `json:"meta,omitempty"`
}

// Clone returns a deep copy, used to stage edits so a failed persistence
// call can restore the original without aliasing surprises.
func (c *TurnContent) Clone() *TurnContent {
	if c == nil {
		return nil
	}
	out := &TurnContent{Performance: c.Performance}
	if c.Vectors != nil {
		v := *c.Vectors
		out.Vectors = &v
	}
	if c.Evolution != nil {
		e := *c.Evolution
		out.Evolution = &e
	}
	if c.Meta != nil {
		m := *c.Meta
		out.Meta = &m
	}
	return out
}

// IsZero reports whether no field has been populated yet, which is the
// state of a placeholder turn before its stream delivers anything.
func (c *TurnContent) IsZero() bool {
	if c == nil {
		return true
	}
	return c.Performance == "" && c.Vectors == nil && c.Evolution == nil && c.Meta == nil
}
