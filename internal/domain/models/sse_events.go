package models

import (
	"encoding/json"
	"fmt"
)

// SSE event type constants
const (
	SSEEventTurnStart     = "turn_start"     // Generation has begun for a turn
	SSEEventFieldStart    = "field_start"    // A payload field began arriving
	SSEEventFieldDelta    = "field_delta"    // Incremental field content
	SSEEventFieldComplete = "field_complete" // Field value is final
	SSEEventFieldCatchup  = "field_catchup"  // Replaying field state (reconnection)
	SSEEventTurnComplete  = "turn_complete"  // Turn finished successfully
	SSEEventTurnError     = "turn_error"     // Turn failed or was cancelled; placeholder rolled back
)

// TurnStartEvent signals that a generation has begun for a placeholder turn
type TurnStartEvent struct {
	TurnID       string `json:"turn_id"`
	ProductionID string `json:"production_id"`
	AssistantID  string `json:"assistant_id"`
	Model        string `json:"model"`
}

// FieldStartEvent signals that a top-level payload field began arriving
type FieldStartEvent struct {
	Field string `json:"field"` // "performance", "vectors", "evolution", "meta"
}

// FieldDeltaEvent contains incremental content for an in-flight field.
// String fields stream text deltas; object fields (vectors, evolution)
// stream raw JSON fragments.
type FieldDeltaEvent struct {
	Field     string  `json:"field"`
	TextDelta *string `json:"text_delta,omitempty"`
	JSONDelta *string `json:"json_delta,omitempty"`
}

// FieldCompleteEvent signals that a field's value can no longer change.
// Value carries the final parsed value for the field.
type FieldCompleteEvent struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// FieldCatchupEvent replays the state of one field for a client that
// attached mid-stream: done fields carry their final value, the in-flight
// field carries the partial text accumulated so far.
type FieldCatchupEvent struct {
	Field   string          `json:"field"`
	Done    bool            `json:"done"`
	Value   json.RawMessage `json:"value,omitempty"`
	Partial *string         `json:"partial,omitempty"`
}

// TurnCompleteEvent signals that the turn finished and was persisted.
// Content is the full validated payload; the turn is now the production's
// active turn.
type TurnCompleteEvent struct {
	TurnID       string       `json:"turn_id"`
	Content      *TurnContent `json:"content"`
	InputTokens  int          `json:"input_tokens,omitempty"`
	OutputTokens int          `json:"output_tokens,omitempty"`
}

// TurnErrorEvent signals that the generation failed or was cancelled. The
// placeholder turn has been rolled back and is absent from the tree.
type TurnErrorEvent struct {
	TurnID      string `json:"turn_id"`
	Error       string `json:"error"`
	IsCancelled bool   `json:"is_cancelled,omitempty"` // True if user cancelled (don't show error toast)
}

// FormatSSE formats an SSE event for transmission
// Returns a string in SSE format:
//
//	event: event_name
//	data: {"field": "value"}
//	\n
func FormatSSE(eventType string, data interface{}) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal SSE event data: %w", err)
	}

	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData)), nil
}

// Helper constructors for common events

// NewTurnStartEvent creates a turn_start SSE event
func NewTurnStartEvent(turnID, productionID, assistantID, model string) (string, error) {
	return FormatSSE(SSEEventTurnStart, TurnStartEvent{
		TurnID:       turnID,
		ProductionID: productionID,
		AssistantID:  assistantID,
		Model:        model,
	})
}

// NewFieldStartEvent creates a field_start SSE event
func NewFieldStartEvent(field string) (string, error) {
	return FormatSSE(SSEEventFieldStart, FieldStartEvent{Field: field})
}

// NewFieldDeltaEvent creates a field_delta SSE event
func NewFieldDeltaEvent(field string, textDelta, jsonDelta *string) (string, error) {
	return FormatSSE(SSEEventFieldDelta, FieldDeltaEvent{
		Field:     field,
		TextDelta: textDelta,
		JSONDelta: jsonDelta,
	})
}

// NewFieldCompleteEvent creates a field_complete SSE event
func NewFieldCompleteEvent(field string, value json.RawMessage) (string, error) {
	return FormatSSE(SSEEventFieldComplete, FieldCompleteEvent{
		Field: field,
		Value: value,
	})
}

// NewFieldCatchupEvent creates a field_catchup SSE event
func NewFieldCatchupEvent(field string, done bool, value json.RawMessage, partial *string) (string, error) {
	return FormatSSE(SSEEventFieldCatchup, FieldCatchupEvent{
		Field:   field,
		Done:    done,
		Value:   value,
		Partial: partial,
	})
}

// NewTurnCompleteEvent creates a turn_complete SSE event
func NewTurnCompleteEvent(turnID string, content *TurnContent, inputTokens, outputTokens int) (string, error) {
	return FormatSSE(SSEEventTurnComplete, TurnCompleteEvent{
		TurnID:       turnID,
		Content:      content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
}

// NewTurnErrorEvent creates a turn_error SSE event
func NewTurnErrorEvent(turnID, errorMsg string, isCancelled bool) (string, error) {
	return FormatSSE(SSEEventTurnError, TurnErrorEvent{
		TurnID:      turnID,
		Error:       errorMsg,
		IsCancelled: isCancelled,
	})
}
