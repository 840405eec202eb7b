package turns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
	"stagehand/internal/httputil"
)

// fakeTurnRepo is an in-memory TurnRepository. Deletes cascade through
// parent pointers the same way the SQL stores do.
type fakeTurnRepo struct {
	turns map[string]*models.Turn

	failCreate bool
	failUpdate bool
	failDelete bool
}

func newFakeTurnRepo() *fakeTurnRepo {
	return &fakeTurnRepo{turns: make(map[string]*models.Turn)}
}

func (r *fakeTurnRepo) CreateTurn(_ context.Context, turn *models.Turn) error {
	if r.failCreate {
		return fmt.Errorf("create failed")
	}
	copied := *turn
	r.turns[turn.ID] = &copied
	return nil
}

func (r *fakeTurnRepo) GetTurn(_ context.Context, turnID string) (*models.Turn, error) {
	turn, ok := r.turns[turnID]
	if !ok {
		return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}
	copied := *turn
	return &copied, nil
}

func (r *fakeTurnRepo) UpdateTurn(_ context.Context, turn *models.Turn) error {
	if r.failUpdate {
		return fmt.Errorf("update failed")
	}
	if _, ok := r.turns[turn.ID]; !ok {
		return fmt.Errorf("turn %s: %w", turn.ID, domain.ErrNotFound)
	}
	copied := *turn
	r.turns[turn.ID] = &copied
	return nil
}

func (r *fakeTurnRepo) DeleteTurn(_ context.Context, turnID string) error {
	if r.failDelete {
		return fmt.Errorf("delete failed")
	}
	if _, ok := r.turns[turnID]; !ok {
		return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}
	doomed := map[string]bool{turnID: true}
	for changed := true; changed; {
		changed = false
		for id, turn := range r.turns {
			if doomed[id] || turn.ParentID == nil {
				continue
			}
			if doomed[*turn.ParentID] {
				doomed[id] = true
				changed = true
			}
		}
	}
	for id := range doomed {
		delete(r.turns, id)
	}
	return nil
}

func (r *fakeTurnRepo) ListTurns(_ context.Context, productionID string) ([]*models.Turn, error) {
	var out []*models.Turn
	for _, turn := range r.turns {
		if turn.ProductionID == productionID {
			copied := *turn
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type fakeProductionRepo struct {
	productions map[string]*models.Production

	failUpdateActive bool
	activeUpdates    int
}

func newFakeProductionRepo() *fakeProductionRepo {
	return &fakeProductionRepo{productions: make(map[string]*models.Production)}
}

func (r *fakeProductionRepo) CreateProduction(_ context.Context, p *models.Production) error {
	copied := *p
	r.productions[p.ID] = &copied
	return nil
}

func (r *fakeProductionRepo) GetProduction(_ context.Context, id string) (*models.Production, error) {
	p, ok := r.productions[id]
	if !ok {
		return nil, fmt.Errorf("production %s: %w", id, domain.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

func (r *fakeProductionRepo) ListProductions(_ context.Context) ([]models.Production, error) {
	var out []models.Production
	for _, p := range r.productions {
		out = append(out, *p)
	}
	return out, nil
}

func (r *fakeProductionRepo) UpdateActiveTurn(_ context.Context, id string, turnID *string) error {
	if r.failUpdateActive {
		return fmt.Errorf("update active failed")
	}
	p, ok := r.productions[id]
	if !ok {
		return fmt.Errorf("production %s: %w", id, domain.ErrNotFound)
	}
	r.activeUpdates++
	if turnID == nil {
		p.ActiveTurnID = nil
	} else {
		copied := *turnID
		p.ActiveTurnID = &copied
	}
	return nil
}

func (r *fakeProductionRepo) DeleteProduction(_ context.Context, id string) error {
	if _, ok := r.productions[id]; !ok {
		return fmt.Errorf("production %s: %w", id, domain.ErrNotFound)
	}
	delete(r.productions, id)
	return nil
}

// fakeGuard marks a single turn as a live streaming target.
type fakeGuard struct {
	liveTurnID   string
	productionID string
}

func (g *fakeGuard) IsStreamingTarget(turnID string) bool {
	return g.liveTurnID != "" && g.liveTurnID == turnID
}

func (g *fakeGuard) LiveTurnForProduction(productionID string) (string, bool) {
	if g.liveTurnID != "" && g.productionID == productionID {
		return g.liveTurnID, true
	}
	return "", false
}

type fixture struct {
	svc         *Service
	turnRepo    *fakeTurnRepo
	productions *fakeProductionRepo
	guard       *fakeGuard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	turnRepo := newFakeTurnRepo()
	productions := newFakeProductionRepo()
	guard := &fakeGuard{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	forests, err := NewForestManager(turnRepo, logger)
	if err != nil {
		t.Fatalf("NewForestManager: %v", err)
	}
	return &fixture{
		svc:         NewService(turnRepo, productions, forests, guard, logger),
		turnRepo:    turnRepo,
		productions: productions,
		guard:       guard,
	}
}

const prodID = "11111111-1111-1111-1111-111111111111"

func (fx *fixture) addProduction(t *testing.T) {
	t.Helper()
	now := time.Now().UTC()
	err := fx.productions.CreateProduction(context.Background(), &models.Production{
		ID:        prodID,
		Title:     "Test Production",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create production: %v", err)
	}
}

// addUserTurn inserts a user turn through the service so the active
// pointer advances the same way it does in real use.
func (fx *fixture) addUserTurn(t *testing.T, performance string) *models.Turn {
	t.Helper()
	turn, err := fx.svc.CreateUserTurn(context.Background(), &services.CreateUserTurnRequest{
		ProductionID:         prodID,
		Performance:          performance,
		ReceivingAssistantID: "assistant-1",
	})
	if err != nil {
		t.Fatalf("CreateUserTurn(%q): %v", performance, err)
	}
	return turn
}

func TestCreateUserTurnChainsUnderActive(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)

	first := fx.addUserTurn(t, "first")
	if first.ParentID != nil {
		t.Fatalf("first turn should be a root, got parent %v", *first.ParentID)
	}

	second := fx.addUserTurn(t, "second")
	if second.ParentID == nil || *second.ParentID != first.ID {
		t.Fatalf("second turn should hang under first, got parent %v", second.ParentID)
	}

	p, _ := fx.productions.GetProduction(context.Background(), prodID)
	if p.ActiveTurnID == nil || *p.ActiveTurnID != second.ID {
		t.Fatalf("active pointer should follow the new turn, got %v", p.ActiveTurnID)
	}
}

func TestCreateUserTurnValidation(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)

	tests := []struct {
		name string
		req  *services.CreateUserTurnRequest
	}{
		{
			name: "missing performance",
			req: &services.CreateUserTurnRequest{
				ProductionID:         prodID,
				ReceivingAssistantID: "assistant-1",
			},
		},
		{
			name: "missing receiving assistant",
			req: &services.CreateUserTurnRequest{
				ProductionID: prodID,
				Performance:  "hello",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.CreateUserTurn(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateUserTurnRollsBackOnPointerFailure(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)

	fx.productions.failUpdateActive = true
	_, err := fx.svc.CreateUserTurn(context.Background(), &services.CreateUserTurnRequest{
		ProductionID:         prodID,
		Performance:          "doomed",
		ReceivingAssistantID: "assistant-1",
	})
	if err == nil {
		t.Fatal("expected error when active-turn update fails")
	}

	turns, _ := fx.turnRepo.ListTurns(context.Background(), prodID)
	if len(turns) != 0 {
		t.Fatalf("turn row should be rolled back, found %d rows", len(turns))
	}

	children, err := fx.svc.GetChildren(context.Background(), prodID, nil)
	if err != nil {
		t.Fatalf("GetChildren: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("forest should be empty after rollback, found %d roots", len(children))
	}
}

func TestGetActiveTurnEmptyForest(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)

	active, err := fx.svc.GetActiveTurn(context.Background(), prodID)
	if err != nil {
		t.Fatalf("GetActiveTurn: %v", err)
	}
	if active != nil {
		t.Fatalf("want nil active turn on empty forest, got %s", active.ID)
	}
}

func TestSetActiveTurnUnknownTurn(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	fx.addUserTurn(t, "root")

	err := fx.svc.SetActiveTurn(context.Background(), prodID, "no-such-turn")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateTurnPatchesContent(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	turn := fx.addUserTurn(t, "original")

	newPerf := "rewritten"
	meta := "a note"
	updated, err := fx.svc.UpdateTurn(context.Background(), turn.ID, &services.UpdateTurnRequest{
		Performance: &newPerf,
		Meta:        httputil.OptionalString{Present: true, Value: &meta},
	})
	if err != nil {
		t.Fatalf("UpdateTurn: %v", err)
	}
	if updated.Content.Performance != "rewritten" {
		t.Errorf("performance not patched: %q", updated.Content.Performance)
	}
	if updated.Content.Meta == nil || *updated.Content.Meta != "a note" {
		t.Errorf("meta not patched: %v", updated.Content.Meta)
	}

	// Explicit null clears meta; absent field leaves performance alone.
	cleared, err := fx.svc.UpdateTurn(context.Background(), turn.ID, &services.UpdateTurnRequest{
		Meta: httputil.OptionalString{Present: true, Value: nil},
	})
	if err != nil {
		t.Fatalf("UpdateTurn (clear): %v", err)
	}
	if cleared.Content.Meta != nil {
		t.Errorf("meta should be cleared, got %q", *cleared.Content.Meta)
	}
	if cleared.Content.Performance != "rewritten" {
		t.Errorf("performance should be untouched, got %q", cleared.Content.Performance)
	}

	stored, _ := fx.turnRepo.GetTurn(context.Background(), turn.ID)
	if stored.Content.Performance != "rewritten" {
		t.Errorf("store not updated: %q", stored.Content.Performance)
	}
}

func TestUpdateTurnRejectsWrongRoleFields(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	turn := fx.addUserTurn(t, "a user turn")

	otherAssistant := "assistant-2"
	_, err := fx.svc.UpdateTurn(context.Background(), turn.ID, &services.UpdateTurnRequest{
		AssistantID: &otherAssistant,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("assistant_id on a user turn: want ErrValidation, got %v", err)
	}
}

func TestUpdateTurnKeepsForestOnStoreFailure(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	turn := fx.addUserTurn(t, "original")

	fx.turnRepo.failUpdate = true
	newPerf := "rewritten"
	_, err := fx.svc.UpdateTurn(context.Background(), turn.ID, &services.UpdateTurnRequest{
		Performance: &newPerf,
	})
	if err == nil {
		t.Fatal("expected update failure")
	}

	children, _ := fx.svc.GetChildren(context.Background(), prodID, nil)
	if len(children) != 1 || children[0].Content.Performance != "original" {
		t.Fatalf("forest copy should be untouched after failed update")
	}
}

func TestUpdateTurnBlockedWhileStreaming(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	turn := fx.addUserTurn(t, "target")

	fx.guard.liveTurnID = turn.ID
	fx.guard.productionID = prodID

	newPerf := "edit"
	_, err := fx.svc.UpdateTurn(context.Background(), turn.ID, &services.UpdateTurnRequest{
		Performance: &newPerf,
	})
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want ConflictError, got %v", err)
	}
}

func TestDeleteTurnCascadesAndResetsActive(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)

	root := fx.addUserTurn(t, "root")
	middle := fx.addUserTurn(t, "middle")
	leaf := fx.addUserTurn(t, "leaf")

	result, err := fx.svc.DeleteTurn(context.Background(), middle.ID)
	if err != nil {
		t.Fatalf("DeleteTurn: %v", err)
	}

	if len(result.DeletedIDs) != 2 {
		t.Fatalf("want 2 deleted (middle + leaf), got %v", result.DeletedIDs)
	}
	deleted := map[string]bool{}
	for _, id := range result.DeletedIDs {
		deleted[id] = true
	}
	if !deleted[middle.ID] || !deleted[leaf.ID] {
		t.Fatalf("deleted set %v should contain middle and leaf", result.DeletedIDs)
	}

	if result.ActiveTurnID == nil || *result.ActiveTurnID != root.ID {
		t.Fatalf("active pointer should fall back to parent %s, got %v", root.ID, result.ActiveTurnID)
	}

	rows, _ := fx.turnRepo.ListTurns(context.Background(), prodID)
	if len(rows) != 1 || rows[0].ID != root.ID {
		t.Fatalf("store should hold only the root, got %d rows", len(rows))
	}
}

func TestDeleteRootClearsActive(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	root := fx.addUserTurn(t, "root")

	result, err := fx.svc.DeleteTurn(context.Background(), root.ID)
	if err != nil {
		t.Fatalf("DeleteTurn: %v", err)
	}
	if result.ActiveTurnID != nil {
		t.Fatalf("active pointer should clear when the whole forest goes, got %v", result.ActiveTurnID)
	}
}

func TestDeleteTurnBlockedWhileSubtreeStreams(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	root := fx.addUserTurn(t, "root")
	leaf := fx.addUserTurn(t, "leaf")

	fx.guard.liveTurnID = leaf.ID
	fx.guard.productionID = prodID

	_, err := fx.svc.DeleteTurn(context.Background(), root.ID)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want ConflictError when subtree holds a live turn, got %v", err)
	}

	rows, _ := fx.turnRepo.ListTurns(context.Background(), prodID)
	if len(rows) != 2 {
		t.Fatalf("nothing should be deleted, got %d rows", len(rows))
	}
}

func TestDeleteTurnRestoresForestOnStoreFailure(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	fx.addUserTurn(t, "root")
	middle := fx.addUserTurn(t, "middle")

	fx.turnRepo.failDelete = true
	if _, err := fx.svc.DeleteTurn(context.Background(), middle.ID); err == nil {
		t.Fatal("expected delete failure")
	}
	fx.turnRepo.failDelete = false

	// Both the forest and the active pointer should be back.
	children, err := fx.svc.GetChildren(context.Background(), prodID, nil)
	if err != nil {
		t.Fatalf("GetChildren: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("root should survive, got %d roots", len(children))
	}
	p, _ := fx.productions.GetProduction(context.Background(), prodID)
	if p.ActiveTurnID == nil || *p.ActiveTurnID != middle.ID {
		t.Fatalf("active pointer should be restored to %s, got %v", middle.ID, p.ActiveTurnID)
	}
}

// Navigation over a regenerated branch: two assistant-style siblings under
// one root, each with its own continuation. Stepping between them lands on
// the target branch's deepest descendant.
func TestNavigateBetweenSiblingBranches(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)

	root := fx.addUserTurn(t, "root")
	branchA := fx.addUserTurn(t, "branch a")
	leafA := fx.addUserTurn(t, "leaf a")

	// Second branch under root, built by hand so the active pointer stays
	// on leafA.
	branchB := models.NewUserTurn(prodID, &root.ID, models.TurnContent{Performance: "branch b"}, "assistant-1", nil, false)
	branchB.CreatedAt = leafA.CreatedAt.Add(time.Second)
	if err := fx.turnRepo.CreateTurn(context.Background(), branchB); err != nil {
		t.Fatalf("create branch b: %v", err)
	}
	fx.svc.forests.Invalidate(prodID)

	// Forward from branch A lands on branch B (its only node).
	active, err := fx.svc.Navigate(context.Background(), &services.NavigateRequest{
		ProductionID: prodID,
		TurnID:       branchA.ID,
		Direction:    services.NavigateForward,
	})
	if err != nil {
		t.Fatalf("Navigate forward: %v", err)
	}
	if active.ID != branchB.ID {
		t.Fatalf("want active %s, got %s", branchB.ID, active.ID)
	}

	// Back from branch B returns to branch A's deepest descendant.
	active, err = fx.svc.Navigate(context.Background(), &services.NavigateRequest{
		ProductionID: prodID,
		TurnID:       branchB.ID,
		Direction:    services.NavigateBack,
	})
	if err != nil {
		t.Fatalf("Navigate back: %v", err)
	}
	if active.ID != leafA.ID {
		t.Fatalf("want active %s (deepest of branch a), got %s", leafA.ID, active.ID)
	}
}

func TestNavigatePastEndIsNoOp(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	fx.addUserTurn(t, "root")
	leaf := fx.addUserTurn(t, "leaf")

	before := fx.productions.activeUpdates
	active, err := fx.svc.Navigate(context.Background(), &services.NavigateRequest{
		ProductionID: prodID,
		TurnID:       leaf.ID,
		Direction:    services.NavigateForward,
	})
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if active.ID != leaf.ID {
		t.Fatalf("no-op navigation should return current active %s, got %s", leaf.ID, active.ID)
	}
	if fx.productions.activeUpdates != before {
		t.Fatal("no-op navigation should not touch the store")
	}
}

func TestNavigateValidation(t *testing.T) {
	fx := newFixture(t)
	fx.addProduction(t)
	fx.addUserTurn(t, "root")

	_, err := fx.svc.Navigate(context.Background(), &services.NavigateRequest{
		ProductionID: prodID,
		TurnID:       "some-turn",
		Direction:    "sideways",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for bad direction, got %v", err)
	}
}
