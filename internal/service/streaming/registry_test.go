package streaming

import (
	"testing"
	"time"

	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
)

func registryExecutor(productionID string) (*Executor, *hookRecorder) {
	recorder := &hookRecorder{}
	turn := models.NewAssistantTurn(productionID, nil, "assistant-1")
	provider := &scriptedProvider{
		deltas:   []string{`{"performance": "ok"}`},
		metadata: &services.StreamMetadata{},
	}
	e := NewExecutor(turn, "scripted-1", provider, &services.ProviderRequest{}, recorder.hooks(), testLogger())
	return e, recorder
}

func TestRegistryOneGenerationPerProduction(t *testing.T) {
	r := NewRegistry()
	first, _ := registryExecutor("prod-1")
	second, _ := registryExecutor("prod-1")
	other, _ := registryExecutor("prod-2")

	if !r.Register(first) {
		t.Fatal("first registration should succeed")
	}
	if r.Register(second) {
		t.Fatal("second registration for the same production should be refused")
	}
	if !r.Register(other) {
		t.Fatal("a different production should register freely")
	}

	if got := r.LiveCount(); got != 2 {
		t.Fatalf("want 2 live generations, got %d", got)
	}
	if !r.IsStreamingTarget(first.TurnID()) {
		t.Error("registered turn should be a streaming target")
	}
	if id, ok := r.LiveTurnForProduction("prod-1"); !ok || id != first.TurnID() {
		t.Errorf("LiveTurnForProduction: got %q %v", id, ok)
	}
}

func TestRegistryRetiresTerminalExecutors(t *testing.T) {
	r := NewRegistry()
	e, _ := registryExecutor("prod-1")
	if !r.Register(e) {
		t.Fatal("register failed")
	}

	e.Start()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not finish")
	}

	if r.IsStreamingTarget(e.TurnID()) {
		t.Error("terminal executor should no longer be a streaming target")
	}
	if _, ok := r.LiveTurnForProduction("prod-1"); ok {
		t.Error("terminal executor should free the production slot")
	}
	if got := r.LiveCount(); got != 0 {
		t.Errorf("want 0 live generations, got %d", got)
	}

	// Still reachable for catchup.
	found, ok := r.Lookup(e.TurnID())
	if !ok || found != e {
		t.Fatal("terminal executor should stay reachable within the catchup window")
	}

	// And the slot is reusable.
	next, _ := registryExecutor("prod-1")
	if !r.Register(next) {
		t.Fatal("production slot should be free after retirement")
	}
}

func TestRegistryDiscard(t *testing.T) {
	r := NewRegistry()
	e, _ := registryExecutor("prod-1")
	if !r.Register(e) {
		t.Fatal("register failed")
	}

	r.Discard(e)

	if _, ok := r.Lookup(e.TurnID()); ok {
		t.Error("discarded executor should not be reachable")
	}
	next, _ := registryExecutor("prod-1")
	if !r.Register(next) {
		t.Fatal("production slot should be free after discard")
	}
}

func TestRegistryInterruptProduction(t *testing.T) {
	r := NewRegistry()
	recorder := &hookRecorder{}
	turn := models.NewAssistantTurn("prod-1", nil, "assistant-1")
	provider := &scriptedProvider{block: true}
	e := NewExecutor(turn, "scripted-1", provider, &services.ProviderRequest{}, recorder.hooks(), testLogger())
	if !r.Register(e) {
		t.Fatal("register failed")
	}
	e.Start()

	if !r.InterruptProduction("prod-1") {
		t.Fatal("interrupt should report a live generation")
	}
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("interrupted executor did not finish")
	}
	if e.Status() != StatusCancelled {
		t.Fatalf("want cancelled, got %s", e.Status())
	}

	if r.InterruptProduction("prod-1") {
		t.Error("second interrupt should find nothing")
	}
	if r.InterruptProduction("prod-unknown") {
		t.Error("unknown production should find nothing")
	}
}
