package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
)

// scriptedProvider plays back a fixed sequence of stream events, chunked
// so field deltas actually exercise the tracker. A blocking script holds
// the stream open until the context is cancelled.
type scriptedProvider struct {
	deltas   []string
	metadata *services.StreamMetadata
	err      error
	block    bool

	mu     sync.Mutex
	gotCtx context.Context
}

func (p *scriptedProvider) Name() string { return "scripted" }

// streamCtx returns the context the executor handed to StreamCompletion,
// or nil before the stream started.
func (p *scriptedProvider) streamCtx() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gotCtx
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, _ *services.ProviderRequest) (<-chan services.StreamEvent, error) {
	p.mu.Lock()
	p.gotCtx = ctx
	p.mu.Unlock()
	// Buffered so a script can finish even when the executor bails out
	// mid-stream.
	ch := make(chan services.StreamEvent, len(p.deltas)+2)
	go func() {
		defer close(ch)
		for _, d := range p.deltas {
			select {
			case ch <- services.StreamEvent{TextDelta: d}:
			case <-ctx.Done():
				ch <- services.StreamEvent{Error: ctx.Err()}
				return
			}
		}
		if p.block {
			<-ctx.Done()
			ch <- services.StreamEvent{Error: ctx.Err()}
			return
		}
		if p.err != nil {
			ch <- services.StreamEvent{Error: p.err}
			return
		}
		if p.metadata != nil {
			ch <- services.StreamEvent{Metadata: p.metadata}
		}
	}()
	return ch, nil
}

// chunk splits s into n-byte pieces.
func chunk(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

type hookRecorder struct {
	mu        sync.Mutex
	completed *models.TurnContent
	meta      *services.StreamMetadata
	rolledBack bool
	failWith  error
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnComplete: func(_ context.Context, _ *models.Turn, content *models.TurnContent, meta *services.StreamMetadata) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.failWith != nil {
				return h.failWith
			}
			h.completed = content
			h.meta = meta
			return nil
		},
		OnRollback: func(_ context.Context, _ *models.Turn) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.rolledBack = true
		},
	}
}

func (h *hookRecorder) snapshot() (content *models.TurnContent, meta *services.StreamMetadata, rolledBack bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed, h.meta, h.rolledBack
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func placeholderTurn() *models.Turn {
	return models.NewAssistantTurn("33333333-3333-3333-3333-333333333333", nil, "assistant-1")
}

// drain collects everything broadcast to an attached client until the
// executor closes the channel.
func drain(ch <-chan string) []string {
	var events []string
	for event := range ch {
		events = append(events, event)
	}
	return events
}

func waitDone(t *testing.T, e *Executor) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not finish")
	}
}

func countEvents(events []string, eventType string) int {
	n := 0
	for _, ev := range events {
		if strings.HasPrefix(ev, "event: "+eventType+"\n") {
			n++
		}
	}
	return n
}

func TestExecutorCompletesStructuredResponse(t *testing.T) {
	response := `{"performance": "The train shudders to a stop.", "vectors": {"location": "sleeper car"}, "meta": "opening beat"}`
	provider := &scriptedProvider{
		deltas:   chunk(response, 7),
		metadata: &services.StreamMetadata{Model: "scripted-1", InputTokens: 10, OutputTokens: 42, StopReason: "end_turn"},
	}
	recorder := &hookRecorder{}

	e := NewExecutor(placeholderTurn(), "scripted-1", provider, &services.ProviderRequest{Model: "scripted-1"}, recorder.hooks(), testLogger())

	ch, finished, err := e.Attach("client-1", func(string) error { return nil })
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if finished {
		t.Fatal("stream should not be finished before Start")
	}

	e.Start()
	events := drain(ch)
	waitDone(t, e)

	if e.Status() != StatusComplete {
		t.Fatalf("want status complete, got %s (err %v)", e.Status(), e.Err())
	}

	content, meta, rolledBack := recorder.snapshot()
	if rolledBack {
		t.Error("successful run must not roll back")
	}
	if content == nil || content.Performance != "The train shudders to a stop." {
		t.Fatalf("OnComplete content: %+v", content)
	}
	if content.Vectors == nil || content.Vectors.Location == nil || *content.Vectors.Location != "sleeper car" {
		t.Errorf("vectors not parsed: %+v", content.Vectors)
	}
	if content.Meta == nil || *content.Meta != "opening beat" {
		t.Errorf("meta not parsed: %v", content.Meta)
	}
	if meta == nil || meta.OutputTokens != 42 {
		t.Errorf("metadata not forwarded: %+v", meta)
	}

	if n := countEvents(events, models.SSEEventTurnStart); n != 1 {
		t.Errorf("want 1 turn_start, got %d", n)
	}
	if n := countEvents(events, models.SSEEventTurnComplete); n != 1 {
		t.Errorf("want 1 turn_complete, got %d", n)
	}
	// performance, vectors and meta each open and close
	if n := countEvents(events, models.SSEEventFieldStart); n != 3 {
		t.Errorf("want 3 field_start, got %d", n)
	}
	if n := countEvents(events, models.SSEEventFieldComplete); n != 3 {
		t.Errorf("want 3 field_complete, got %d", n)
	}
	if countEvents(events, models.SSEEventFieldDelta) == 0 {
		t.Error("want at least one field_delta")
	}
}

func TestExecutorInterruptRollsBack(t *testing.T) {
	provider := &scriptedProvider{
		deltas: []string{`{"performance": "I was just about to`},
		block:  true,
	}
	recorder := &hookRecorder{}

	e := NewExecutor(placeholderTurn(), "scripted-1", provider, &services.ProviderRequest{}, recorder.hooks(), testLogger())
	ch, _, err := e.Attach("client-1", func(string) error { return nil })
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	e.Start()

	// Let the first delta land, then pull the plug.
	deadline := time.After(5 * time.Second)
	var seen []string
	for countEvents(seen, models.SSEEventFieldStart) == 0 {
		seen = append(seen, drainNonBlocking(ch)...)
		select {
		case <-deadline:
			t.Fatal("first delta never arrived")
		case <-time.After(5 * time.Millisecond):
		}
	}
	e.Interrupt()
	waitDone(t, e)

	if e.Status() != StatusCancelled {
		t.Fatalf("want status cancelled, got %s", e.Status())
	}
	content, _, rolledBack := recorder.snapshot()
	if !rolledBack {
		t.Error("cancelled run must roll back the placeholder")
	}
	if content != nil {
		t.Error("cancelled run must not finalize content")
	}
}

// drainNonBlocking empties whatever is buffered without waiting.
func drainNonBlocking(ch <-chan string) []string {
	var out []string
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestExecutorProviderErrorRollsBack(t *testing.T) {
	provider := &scriptedProvider{
		deltas: []string{`{"performance": "partial`},
		err:    errors.New("upstream exploded"),
	}
	recorder := &hookRecorder{}

	e := NewExecutor(placeholderTurn(), "scripted-1", provider, &services.ProviderRequest{}, recorder.hooks(), testLogger())
	ch, _, _ := e.Attach("client-1", func(string) error { return nil })
	e.Start()
	events := drain(ch)
	waitDone(t, e)

	if e.Status() != StatusError {
		t.Fatalf("want status error, got %s", e.Status())
	}
	if e.Err() == nil || !strings.Contains(e.Err().Error(), "upstream exploded") {
		t.Errorf("cause not preserved: %v", e.Err())
	}
	if _, _, rolledBack := recorder.snapshot(); !rolledBack {
		t.Error("failed run must roll back the placeholder")
	}
	if n := countEvents(events, models.SSEEventTurnError); n != 1 {
		t.Errorf("want 1 turn_error, got %d", n)
	}
}

func TestExecutorMalformedResponseFails(t *testing.T) {
	provider := &scriptedProvider{
		deltas:   []string{`this is not json at all`},
		metadata: &services.StreamMetadata{},
	}
	recorder := &hookRecorder{}

	e := NewExecutor(placeholderTurn(), "scripted-1", provider, &services.ProviderRequest{}, recorder.hooks(), testLogger())
	e.Start()
	waitDone(t, e)

	if e.Status() != StatusError {
		t.Fatalf("want status error, got %s", e.Status())
	}
	if _, _, rolledBack := recorder.snapshot(); !rolledBack {
		t.Error("malformed response must roll back the placeholder")
	}
}

// A failure that stops the loop mid-stream must still cancel the provider
// context; a token-streaming provider would otherwise sit on an undrained
// channel forever, holding its response body open.
func TestExecutorFailureCancelsProviderContext(t *testing.T) {
	provider := &scriptedProvider{
		deltas: []string{`this is not json at all`},
	}
	recorder := &hookRecorder{}

	e := NewExecutor(placeholderTurn(), "scripted-1", provider, &services.ProviderRequest{}, recorder.hooks(), testLogger())
	e.Start()
	waitDone(t, e)

	if e.Status() != StatusError {
		t.Fatalf("want status error, got %s", e.Status())
	}

	deadline := time.After(2 * time.Second)
	for {
		if ctx := provider.streamCtx(); ctx != nil && ctx.Err() != nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("provider context still live after executor terminal state")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestExecutorFinalizeFailureFails(t *testing.T) {
	provider := &scriptedProvider{
		deltas:   chunk(`{"performance": "fine text"}`, 5),
		metadata: &services.StreamMetadata{},
	}
	recorder := &hookRecorder{failWith: fmt.Errorf("store rejected the turn")}

	e := NewExecutor(placeholderTurn(), "scripted-1", provider, &services.ProviderRequest{}, recorder.hooks(), testLogger())
	e.Start()
	waitDone(t, e)

	if e.Status() != StatusError {
		t.Fatalf("persistence failure should fail the turn, got %s", e.Status())
	}
	if _, _, rolledBack := recorder.snapshot(); !rolledBack {
		t.Error("persistence failure must roll back the placeholder")
	}
}

func TestAttachAfterCompleteReplaysEverything(t *testing.T) {
	provider := &scriptedProvider{
		deltas:   chunk(`{"performance": "done and dusted", "meta": "n"}`, 6),
		metadata: &services.StreamMetadata{OutputTokens: 7},
	}
	recorder := &hookRecorder{}

	e := NewExecutor(placeholderTurn(), "scripted-1", provider, &services.ProviderRequest{}, recorder.hooks(), testLogger())
	e.Start()
	waitDone(t, e)

	var replayed []string
	_, finished, err := e.Attach("late-client", func(event string) error {
		replayed = append(replayed, event)
		return nil
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !finished {
		t.Fatal("attach after terminal must report finished")
	}

	if n := countEvents(replayed, models.SSEEventTurnStart); n != 1 {
		t.Errorf("replay should open with turn_start, got %d", n)
	}
	if n := countEvents(replayed, models.SSEEventFieldCatchup); n != 2 {
		t.Errorf("want catchup for performance and meta, got %d", n)
	}
	if n := countEvents(replayed, models.SSEEventTurnComplete); n != 1 {
		t.Errorf("replay should end with turn_complete, got %d", n)
	}
}

func TestAttachAfterCancelReportsCancellation(t *testing.T) {
	provider := &scriptedProvider{block: true}
	recorder := &hookRecorder{}

	e := NewExecutor(placeholderTurn(), "scripted-1", provider, &services.ProviderRequest{}, recorder.hooks(), testLogger())
	e.Start()
	e.Interrupt()
	waitDone(t, e)

	var replayed []string
	_, finished, err := e.Attach("late-client", func(event string) error {
		replayed = append(replayed, event)
		return nil
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !finished {
		t.Fatal("attach after cancel must report finished")
	}
	found := false
	for _, ev := range replayed {
		if strings.HasPrefix(ev, "event: "+models.SSEEventTurnError+"\n") && strings.Contains(ev, `"is_cancelled":true`) {
			found = true
		}
	}
	if !found {
		t.Errorf("replay should carry a cancelled turn_error, got %v", replayed)
	}
}
