package completion

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
	"stagehand/internal/turntree"
)

const linProdID = "22222222-2222-2222-2222-222222222222"

func linUserTurn(t *testing.T, f *turntree.Forest, parentID *string, performance string, directive bool, seq int) *models.Turn {
	t.Helper()
	recv := "assistant-1"
	turn := &models.Turn{
		ID:                   "turn-" + string(rune('a'+seq)),
		ProductionID:         linProdID,
		ParentID:             parentID,
		Role:                 models.RoleUser,
		Content:              models.TurnContent{Performance: performance},
		CreatedAt:            time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
		IsDirective:          directive,
		ReceivingAssistantID: &recv,
		Status:               models.TurnStatusComplete,
	}
	if err := f.Insert(turn); err != nil {
		t.Fatalf("insert %s: %v", turn.ID, err)
	}
	return turn
}

func linAssistantTurn(t *testing.T, f *turntree.Forest, parentID *string, content models.TurnContent, status string, seq int) *models.Turn {
	t.Helper()
	assistantID := "assistant-1"
	turn := &models.Turn{
		ID:           "turn-" + string(rune('a'+seq)),
		ProductionID: linProdID,
		ParentID:     parentID,
		Role:         models.RoleAssistant,
		Content:      content,
		CreatedAt:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
		AssistantID:  &assistantID,
		Status:       status,
	}
	if err := f.Insert(turn); err != nil {
		t.Fatalf("insert %s: %v", turn.ID, err)
	}
	return turn
}

func testFrame() PromptFrame {
	return BuildFrame(
		&models.Production{ID: linProdID, Title: "T", Scenario: "A stranded train."},
		&models.Assistant{ID: "assistant-1", Name: "Verity", Persona: "A weary detective."},
	)
}

func TestBuildFrame(t *testing.T) {
	frame := testFrame()
	for _, want := range []string{"You are Verity.", "A weary detective.", "Scenario:\nA stranded train."} {
		if !strings.Contains(frame.Preamble, want) {
			t.Errorf("preamble missing %q:\n%s", want, frame.Preamble)
		}
	}
	if !strings.Contains(frame.Closing, `"performance"`) {
		t.Errorf("closing should state the response contract:\n%s", frame.Closing)
	}
}

func TestLinearizeBranch(t *testing.T) {
	f := turntree.New(linProdID)
	root := linUserTurn(t, f, nil, "Hello there.", false, 0)
	meta := "ooc note"
	reply := linAssistantTurn(t, f, &root.ID, models.TurnContent{
		Performance: "General Kenobi.",
		Meta:        &meta,
	}, models.TurnStatusComplete, 1)
	leaf := linUserTurn(t, f, &reply.ID, "Skip the banter.", true, 2)

	messages, err := Linearize(f, leaf.ID, testFrame())
	if err != nil {
		t.Fatalf("Linearize: %v", err)
	}

	// preamble + 3 turns + closing
	if len(messages) != 5 {
		t.Fatalf("want 5 messages, got %d", len(messages))
	}

	wantRoles := []string{
		services.MessageRoleSystem,
		services.MessageRoleUser,
		services.MessageRoleAssistant,
		services.MessageRoleUser,
		services.MessageRoleSystem,
	}
	for i, role := range wantRoles {
		if messages[i].Role != role {
			t.Errorf("message %d: want role %s, got %s", i, role, messages[i].Role)
		}
	}

	if messages[1].Text != "Hello there." {
		t.Errorf("user turn text: %q", messages[1].Text)
	}

	// Assistant turns come through as compact JSON.
	var decoded models.TurnContent
	if err := json.Unmarshal([]byte(messages[2].Text), &decoded); err != nil {
		t.Fatalf("assistant message is not JSON: %v", err)
	}
	if decoded.Performance != "General Kenobi." || decoded.Meta == nil || *decoded.Meta != "ooc note" {
		t.Errorf("assistant content round-trip mismatch: %+v", decoded)
	}

	// Directives carry the marker.
	if !strings.HasPrefix(messages[3].Text, directiveMarker) {
		t.Errorf("directive should be marked: %q", messages[3].Text)
	}
	if !strings.HasSuffix(messages[3].Text, "Skip the banter.") {
		t.Errorf("directive text mangled: %q", messages[3].Text)
	}
}

func TestLinearizeSkipsStreamingPlaceholder(t *testing.T) {
	f := turntree.New(linProdID)
	root := linUserTurn(t, f, nil, "Begin.", false, 0)
	placeholder := linAssistantTurn(t, f, &root.ID, models.TurnContent{}, models.TurnStatusStreaming, 1)

	messages, err := Linearize(f, placeholder.ID, testFrame())
	if err != nil {
		t.Fatalf("Linearize: %v", err)
	}
	for _, m := range messages {
		if m.Role == services.MessageRoleAssistant {
			t.Fatalf("placeholder should be skipped, got assistant message %q", m.Text)
		}
	}
}

func TestLinearizeOnlyFollowsOneBranch(t *testing.T) {
	f := turntree.New(linProdID)
	root := linUserTurn(t, f, nil, "Root.", false, 0)
	branchA := linUserTurn(t, f, &root.ID, "Branch A.", false, 1)
	linUserTurn(t, f, &root.ID, "Branch B.", false, 2)

	messages, err := Linearize(f, branchA.ID, testFrame())
	if err != nil {
		t.Fatalf("Linearize: %v", err)
	}
	for _, m := range messages {
		if strings.Contains(m.Text, "Branch B.") {
			t.Fatalf("sibling branch leaked into transcript: %q", m.Text)
		}
	}
}

func TestLinearizeUnknownLeaf(t *testing.T) {
	f := turntree.New(linProdID)
	if _, err := Linearize(f, "missing", testFrame()); err == nil {
		t.Fatal("want error for unknown leaf")
	}
}

func TestFrameOnly(t *testing.T) {
	messages := FrameOnly(testFrame())
	if len(messages) != 3 {
		t.Fatalf("want 3 messages, got %d", len(messages))
	}
	if messages[1].Role != services.MessageRoleUser {
		t.Fatalf("empty branch needs a synthetic user message, got role %s", messages[1].Role)
	}
	if !strings.HasPrefix(messages[1].Text, directiveMarker) {
		t.Errorf("opening line should be a directive: %q", messages[1].Text)
	}
}
