// Package streaming runs assistant-turn generations: one executor per
// live generation, fanning field-level SSE events out to any number of
// attached clients, with snapshot-based catchup for clients that connect
// mid-stream. The registry enforces the single-generation-per-production
// rule and keeps finished executors around briefly so late attaches still
// learn how a turn ended.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
	"stagehand/internal/streamparse"
)

// Executor statuses.
const (
	StatusStreaming = "streaming"
	StatusComplete  = "complete"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// clientBuffer is the per-client event channel depth. A client that falls
// further behind than this starts losing deltas; catchup on reconnect is
// the recovery path.
const clientBuffer = 32

// Hooks are the persistence callbacks an executor fires at its terminal
// states. They run on the executor goroutine with no forest lock held.
type Hooks struct {
	// OnComplete persists the final content, flips the turn to complete,
	// and advances the active pointer. An error here fails the turn.
	OnComplete func(ctx context.Context, turn *models.Turn, content *models.TurnContent, meta *services.StreamMetadata) error

	// OnRollback removes the placeholder turn after a failed or cancelled
	// generation. Best effort; errors are logged, not surfaced.
	OnRollback func(ctx context.Context, turn *models.Turn)
}

// State is the observable streaming state of one generation, the
// at-most-one-per-production record the UI polls or subscribes to.
type State struct {
	IsStreaming     bool     `json:"is_streaming"`
	ProductionID    string   `json:"production_id"`
	AssistantID     string   `json:"assistant_id"`
	TurnID          string   `json:"turn_id"`
	CompletedFields []string `json:"completed_fields"`
}

// fieldState mirrors the tracker's view of one field in a form that is
// safe to read from other goroutines (the tracker itself is confined to
// the executor goroutine).
type fieldState struct {
	done    bool
	isJSON  bool
	value   []byte
	partial strings.Builder
}

// Executor drives one assistant-turn generation from provider stream to
// persisted turn. Construct with NewExecutor, hand to Registry.Register,
// then Start.
type Executor struct {
	turn     *models.Turn
	model    string
	provider services.CompletionProvider
	request  *services.ProviderRequest
	hooks    Hooks
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	tracker *streamparse.ObjectTracker

	clientsMu sync.Mutex
	clients   map[string]chan string

	mu              sync.RWMutex
	status          string
	statusErr       error
	completedFields []string
	fields          map[string]*fieldState
	fieldOrder      []string

	// set by the registry so terminal executors retire themselves
	onTerminal func(*Executor)
	done       chan struct{}
}

// NewExecutor creates an executor for one placeholder turn. The turn must
// already be persisted with streaming status; Start begins the work.
func NewExecutor(
	turn *models.Turn,
	model string,
	provider services.CompletionProvider,
	request *services.ProviderRequest,
	hooks Hooks,
	logger *slog.Logger,
) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		turn:     turn,
		model:    model,
		provider: provider,
		request:  request,
		hooks:    hooks,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  streamparse.NewObjectTracker(),
		clients:  make(map[string]chan string),
		status:   StatusStreaming,
		fields:   make(map[string]*fieldState),
		done:     make(chan struct{}),
	}
}

// TurnID returns the id of the turn being filled.
func (e *Executor) TurnID() string { return e.turn.ID }

// ProductionID returns the production this generation belongs to.
func (e *Executor) ProductionID() string { return e.turn.ProductionID }

// Start launches the generation goroutine. Call exactly once.
func (e *Executor) Start() {
	go e.run()
}

// Interrupt cancels the generation. The placeholder is rolled back; a
// cancelled stream never finalizes its turn. Safe to call repeatedly.
func (e *Executor) Interrupt() {
	e.cancel()
}

// Done is closed once the executor reaches a terminal state.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Status returns the current execution status.
func (e *Executor) Status() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Err returns the failure cause when Status is error.
func (e *Executor) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusErr
}

// State returns the observable streaming state snapshot.
func (e *Executor) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	completed := make([]string, len(e.completedFields))
	copy(completed, e.completedFields)
	assistantID := ""
	if e.turn.AssistantID != nil {
		assistantID = *e.turn.AssistantID
	}
	return State{
		IsStreaming:     e.status == StatusStreaming,
		ProductionID:    e.turn.ProductionID,
		AssistantID:     assistantID,
		TurnID:          e.turn.ID,
		CompletedFields: completed,
	}
}

// RemoveClient unregisters a client. Safe after terminal close.
func (e *Executor) RemoveClient(clientID string) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()
	if ch, ok := e.clients[clientID]; ok {
		close(ch)
		delete(e.clients, clientID)
	}
}

// Attach registers an SSE client and replays everything it missed: a
// turn_start, every field seen so far (final values for done fields, the
// partial prefix for the in-flight one), then the terminal event if the
// generation already ended. Registration and snapshot happen under one
// lock acquisition, so a live event lands either in the replay or on the
// returned channel, never both and never neither.
// Returns true when the stream is over and the channel will see nothing.
func (e *Executor) Attach(clientID string, send func(event string) error) (<-chan string, bool, error) {
	e.mu.RLock()
	ch := make(chan string, clientBuffer)
	e.clientsMu.Lock()
	e.clients[clientID] = ch
	e.clientsMu.Unlock()

	var snaps []catchupSnap
	for _, name := range e.fieldOrder {
		fs := e.fields[name]
		snaps = append(snaps, catchupSnap{field: name, done: fs.done, value: fs.value, partial: fs.partial.String()})
	}
	status := e.status
	statusErr := e.statusErr
	e.mu.RUnlock()

	finished, err := e.replay(snaps, status, statusErr, send)
	return ch, finished, err
}

// catchupSnap is one field's state at the attach boundary.
type catchupSnap struct {
	field   string
	done    bool
	value   []byte
	partial string
}

func (e *Executor) replay(snaps []catchupSnap, status string, statusErr error, send func(event string) error) (bool, error) {
	assistantID := ""
	if e.turn.AssistantID != nil {
		assistantID = *e.turn.AssistantID
	}
	start, err := models.NewTurnStartEvent(e.turn.ID, e.turn.ProductionID, assistantID, e.model)
	if err != nil {
		return false, err
	}
	if err := send(start); err != nil {
		return false, err
	}

	for _, sn := range snaps {
		var partial *string
		if !sn.done {
			p := sn.partial
			partial = &p
		}
		event, err := models.NewFieldCatchupEvent(sn.field, sn.done, sn.value, partial)
		if err != nil {
			return false, err
		}
		if err := send(event); err != nil {
			return false, err
		}
	}

	switch status {
	case StatusComplete:
		event, err := models.NewTurnCompleteEvent(e.turn.ID, &e.turn.Content, 0, 0)
		if err != nil {
			return false, err
		}
		return true, send(event)
	case StatusError:
		msg := "generation failed"
		if statusErr != nil {
			msg = statusErr.Error()
		}
		event, err := models.NewTurnErrorEvent(e.turn.ID, msg, false)
		if err != nil {
			return false, err
		}
		return true, send(event)
	case StatusCancelled:
		event, err := models.NewTurnErrorEvent(e.turn.ID, "generation was cancelled", true)
		if err != nil {
			return false, err
		}
		return true, send(event)
	}
	return false, nil
}

// run is the generation loop: provider stream in, tracker events out.
func (e *Executor) run() {
	// Every exit releases the provider context, so a failure that stops
	// the loop mid-stream does not strand the provider goroutine (or its
	// open response body) behind an undrained channel.
	defer e.cancel()

	assistantID := ""
	if e.turn.AssistantID != nil {
		assistantID = *e.turn.AssistantID
	}
	if event, err := models.NewTurnStartEvent(e.turn.ID, e.turn.ProductionID, assistantID, e.model); err == nil {
		e.broadcast(event)
	}

	stream, err := e.provider.StreamCompletion(e.ctx, e.request)
	if err != nil {
		e.fail(&domain.UpstreamError{
			Message:  "start completion stream",
			Provider: e.provider.Name(),
			Cause:    err,
		})
		return
	}

	var meta *services.StreamMetadata
	for ev := range stream {
		if ev.Error != nil {
			if e.ctx.Err() != nil || errors.Is(ev.Error, context.Canceled) {
				e.cancelledExit()
				return
			}
			e.fail(&domain.UpstreamError{
				Message:  "completion stream failed",
				Provider: e.provider.Name(),
				Cause:    ev.Error,
			})
			return
		}
		if ev.TextDelta != "" {
			events, err := e.tracker.Feed(ev.TextDelta)
			e.emitFieldEvents(events)
			if err != nil {
				e.fail(&domain.UpstreamError{
					Message:  "malformed structured response",
					Provider: e.provider.Name(),
					Cause:    err,
				})
				return
			}
		}
		if ev.Metadata != nil {
			meta = ev.Metadata
		}
	}

	if e.ctx.Err() != nil {
		e.cancelledExit()
		return
	}

	content, finalEvents, err := e.tracker.Finalize()
	e.emitFieldEvents(finalEvents)
	if err != nil {
		e.fail(&domain.UpstreamError{
			Message:  "non-conforming structured response",
			Provider: e.provider.Name(),
			Cause:    err,
		})
		return
	}
	if unknown := e.tracker.UnknownKeys(); len(unknown) > 0 {
		e.logger.Warn("response carried unknown top-level keys",
			"turn_id", e.turn.ID,
			"keys", unknown,
		)
	}

	if err := e.hooks.OnComplete(e.ctx, e.turn, content, meta); err != nil {
		e.fail(fmt.Errorf("finalize turn %s: %w", e.turn.ID, err))
		return
	}

	e.mu.Lock()
	e.status = StatusComplete
	e.mu.Unlock()

	inputTokens, outputTokens := 0, 0
	if meta != nil {
		inputTokens, outputTokens = meta.InputTokens, meta.OutputTokens
	}
	if event, err := models.NewTurnCompleteEvent(e.turn.ID, content, inputTokens, outputTokens); err == nil {
		e.broadcast(event)
	}

	e.logger.Info("assistant turn complete",
		"production_id", e.turn.ProductionID,
		"turn_id", e.turn.ID,
		"output_tokens", outputTokens,
	)
	e.finish()
}

// emitFieldEvents mirrors tracker events into the catchup state and
// broadcasts them. State update and broadcast happen under the same lock
// so Attach can draw a boundary where an event lands in the replay
// snapshot or on the client channel, never both.
func (e *Executor) emitFieldEvents(events []streamparse.FieldEvent) {
	for _, fe := range events {
		e.mu.Lock()
		switch fe.Kind {
		case streamparse.FieldEventStarted:
			if _, ok := e.fields[fe.Field]; !ok {
				e.fields[fe.Field] = &fieldState{}
				e.fieldOrder = append(e.fieldOrder, fe.Field)
			}
			if event, err := models.NewFieldStartEvent(fe.Field); err == nil {
				e.broadcast(event)
			}

		case streamparse.FieldEventDelta:
			if fs, ok := e.fields[fe.Field]; ok {
				fs.isJSON = fe.JSON
				fs.partial.WriteString(fe.Delta)
			}
			var textDelta, jsonDelta *string
			d := fe.Delta
			if fe.JSON {
				jsonDelta = &d
			} else {
				textDelta = &d
			}
			if event, err := models.NewFieldDeltaEvent(fe.Field, textDelta, jsonDelta); err == nil {
				e.broadcast(event)
			}

		case streamparse.FieldEventCompleted:
			if fs, ok := e.fields[fe.Field]; ok {
				fs.done = true
				fs.value = append([]byte(nil), fe.Value...)
			}
			e.completedFields = append(e.completedFields, fe.Field)
			if event, err := models.NewFieldCompleteEvent(fe.Field, fe.Value); err == nil {
				e.broadcast(event)
			}
		}
		e.mu.Unlock()
	}
}

// fail rolls back the placeholder and reports the error to clients.
func (e *Executor) fail(cause error) {
	e.rollback()

	e.mu.Lock()
	e.status = StatusError
	e.statusErr = cause
	e.mu.Unlock()

	e.logger.Error("assistant turn failed",
		"production_id", e.turn.ProductionID,
		"turn_id", e.turn.ID,
		"error", cause,
	)
	if event, err := models.NewTurnErrorEvent(e.turn.ID, cause.Error(), false); err == nil {
		e.broadcast(event)
	}
	e.finish()
}

// cancelledExit rolls back the placeholder after an interrupt.
// Cancellation ends the same way as failure: no partial turn survives.
func (e *Executor) cancelledExit() {
	e.rollback()

	e.mu.Lock()
	e.status = StatusCancelled
	e.mu.Unlock()

	e.logger.Info("assistant turn cancelled",
		"production_id", e.turn.ProductionID,
		"turn_id", e.turn.ID,
	)
	if event, err := models.NewTurnErrorEvent(e.turn.ID, "generation was cancelled", true); err == nil {
		e.broadcast(event)
	}
	e.finish()
}

func (e *Executor) rollback() {
	if e.hooks.OnRollback != nil {
		// The executor context may already be cancelled; rollback still
		// has to reach the store.
		e.hooks.OnRollback(context.WithoutCancel(e.ctx), e.turn)
	}
}

// finish closes all client channels and retires the executor.
func (e *Executor) finish() {
	e.clientsMu.Lock()
	for id, ch := range e.clients {
		close(ch)
		delete(e.clients, id)
	}
	e.clientsMu.Unlock()

	if e.onTerminal != nil {
		e.onTerminal(e)
	}
	close(e.done)
}

// broadcast sends an event to every client, dropping it for clients whose
// buffers are full. Slow clients recover through catchup on reconnect.
func (e *Executor) broadcast(event string) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()
	for id, ch := range e.clients {
		select {
		case ch <- event:
		default:
			e.logger.Warn("dropping event for slow client",
				"turn_id", e.turn.ID,
				"client_id", id,
			)
		}
	}
}
