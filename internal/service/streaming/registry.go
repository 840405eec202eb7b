package streaming

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// catchupWindow is how long a finished executor stays reachable so SSE
// clients that attach after the terminal event still learn the outcome.
const catchupWindow = 10 * time.Minute

// finishedCapacity bounds the retained terminal executors.
const finishedCapacity = 512

// Registry tracks live generation executors. It is the authoritative
// guard for the one-generation-per-production rule: Register refuses a
// second executor for a production that is already streaming, regardless
// of what the UI allowed.
type Registry struct {
	mu           sync.Mutex
	byProduction map[string]*Executor
	byTurn       map[string]*Executor
	finished     *expirable.LRU[string, *Executor]
}

// NewRegistry creates an executor registry.
func NewRegistry() *Registry {
	return &Registry{
		byProduction: make(map[string]*Executor),
		byTurn:       make(map[string]*Executor),
		finished:     expirable.NewLRU[string, *Executor](finishedCapacity, nil, catchupWindow),
	}
}

// Register claims the production's generation slot for the executor.
// Returns false when the production already has a live generation; the
// caller maps that to a ConflictError.
func (r *Registry) Register(e *Executor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.byProduction[e.ProductionID()]; live {
		return false
	}
	r.byProduction[e.ProductionID()] = e
	r.byTurn[e.TurnID()] = e
	e.onTerminal = r.retire
	return true
}

// Lookup finds the executor filling (or having filled, within the
// catchup window) the given turn.
func (r *Registry) Lookup(turnID string) (*Executor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byTurn[turnID]; ok {
		return e, true
	}
	return r.finished.Get(turnID)
}

// IsStreamingTarget reports whether turnID is the live target of a
// generation. Finished executors do not count: once terminal, the turn is
// either complete (editable) or rolled back (gone).
func (r *Registry) IsStreamingTarget(turnID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byTurn[turnID]
	return ok
}

// LiveTurnForProduction returns the turn id of the production's live
// generation, if any.
func (r *Registry) LiveTurnForProduction(productionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byProduction[productionID]; ok {
		return e.TurnID(), true
	}
	return "", false
}

// StateForProduction returns the observable streaming state of the
// production's live generation, if any.
func (r *Registry) StateForProduction(productionID string) (State, bool) {
	r.mu.Lock()
	e, ok := r.byProduction[productionID]
	r.mu.Unlock()
	if !ok {
		return State{}, false
	}
	return e.State(), true
}

// InterruptProduction cancels the production's live generation, if any.
// Returns whether a generation was running.
func (r *Registry) InterruptProduction(productionID string) bool {
	r.mu.Lock()
	e, ok := r.byProduction[productionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.Interrupt()
	return true
}

// Discard releases a registered executor that never started, e.g. when
// persisting its placeholder failed. Nothing is retained for catchup.
func (r *Registry) Discard(e *Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byProduction[e.ProductionID()] == e {
		delete(r.byProduction, e.ProductionID())
	}
	delete(r.byTurn, e.TurnID())
}

// retire moves a terminal executor out of the live maps into the
// catchup-window cache. Invoked by the executor itself.
func (r *Registry) retire(e *Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byProduction[e.ProductionID()] == e {
		delete(r.byProduction, e.ProductionID())
	}
	delete(r.byTurn, e.TurnID())
	r.finished.Add(e.TurnID(), e)
}

// LiveCount returns the number of in-flight generations. Used by tests
// and the health surface.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byProduction)
}
