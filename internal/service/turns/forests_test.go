package turns

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"stagehand/internal/turntree"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Cache pressure must never break per-production serialization: a caller
// holding a production's lock keeps it exclusive even after the forest
// cache evicts that production.
func TestForestManagerSerializesUnderEviction(t *testing.T) {
	repo := newFakeTurnRepo()
	m, err := NewForestManager(repo, discardLogger())
	if err != nil {
		t.Fatalf("NewForestManager: %v", err)
	}
	ctx := context.Background()

	entered := make(chan struct{})
	releaseFirst := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- m.With(ctx, "prod-evict", func(*turntree.Forest) error {
			close(entered)
			<-releaseFirst
			return nil
		})
	}()
	<-entered

	// Evict prod-evict's forest while the first caller is still inside.
	for i := 0; i < forestCacheSize+10; i++ {
		id := fmt.Sprintf("prod-filler-%d", i)
		if err := m.With(ctx, id, func(*turntree.Forest) error { return nil }); err != nil {
			t.Fatalf("With(%s): %v", id, err)
		}
	}

	var overlapped atomic.Bool
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- m.With(ctx, "prod-evict", func(*turntree.Forest) error {
			select {
			case <-releaseFirst:
			default:
				overlapped.Store(true)
			}
			return nil
		})
	}()

	// Give the second caller a chance to (incorrectly) enter.
	select {
	case err := <-secondDone:
		t.Fatalf("second caller finished while the first held the lock (err %v)", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(releaseFirst)
	if err := <-firstDone; err != nil {
		t.Fatalf("first With: %v", err)
	}
	select {
	case err := <-secondDone:
		if err != nil {
			t.Fatalf("second With: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never ran after the lock was released")
	}
	if overlapped.Load() {
		t.Fatal("two callers were inside the same production's critical section")
	}
}

// Released locks are garbage collected, so idle productions do not pin a
// mutex forever.
func TestForestManagerReleasesIdleLocks(t *testing.T) {
	repo := newFakeTurnRepo()
	m, err := NewForestManager(repo, discardLogger())
	if err != nil {
		t.Fatalf("NewForestManager: %v", err)
	}

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("prod-%d", i)
		if err := m.With(context.Background(), id, func(*turntree.Forest) error { return nil }); err != nil {
			t.Fatalf("With(%s): %v", id, err)
		}
	}

	m.mu.Lock()
	held := len(m.locks)
	m.mu.Unlock()
	if held != 0 {
		t.Fatalf("want 0 retained locks after all callers returned, got %d", held)
	}
}
