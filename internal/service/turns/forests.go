// Package turns implements the turn-store operations over a production's
// conversation forest: reads, user-turn insertion, edits, cascading
// deletes, the active-turn pointer, and sibling navigation.
package turns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"stagehand/internal/domain/repositories"
	"stagehand/internal/turntree"
)

// forestCacheSize bounds how many production forests stay resident.
// Every committed mutation is written through to the repository, so an
// evicted forest is always reconstructible from ListTurns.
const forestCacheSize = 256

// productionLock is a refcounted per-production mutex. Locks live outside
// the forest cache: cache eviction only discards the rebuildable index,
// never a mutex somebody may be holding.
type productionLock struct {
	mu   sync.Mutex
	refs int
}

// ForestManager hands out per-production forest indexes, loading them
// from the turn repository on first use and caching them in an LRU.
// All access goes through With, which serializes callers per production;
// there is no cross-production locking because forests are independent.
type ForestManager struct {
	turnRepo repositories.TurnRepository
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*productionLock
	cache *lru.Cache[string, *turntree.Forest]
}

// NewForestManager creates a forest manager backed by the given repository.
func NewForestManager(turnRepo repositories.TurnRepository, logger *slog.Logger) (*ForestManager, error) {
	cache, err := lru.New[string, *turntree.Forest](forestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create forest cache: %w", err)
	}
	return &ForestManager{
		turnRepo: turnRepo,
		logger:   logger,
		locks:    make(map[string]*productionLock),
		cache:    cache,
	}, nil
}

// With runs fn against the production's forest while holding that
// production's lock. The forest passed to fn must not be retained after
// fn returns. Mutations fn makes to the forest must already be persisted
// (or rolled back) by the time fn returns, since an evicted forest is
// rebuilt from the repository.
func (m *ForestManager) With(ctx context.Context, productionID string, fn func(f *turntree.Forest) error) error {
	l := m.acquire(productionID)
	defer m.release(productionID, l)

	forest, ok := m.cache.Get(productionID)
	if !ok {
		loaded, err := m.load(ctx, productionID)
		if err != nil {
			return err
		}
		forest = loaded
		m.cache.Add(productionID, forest)
	}

	return fn(forest)
}

// Invalidate drops the cached forest for a production so the next access
// rebuilds it from the repository. Used after out-of-band changes.
func (m *ForestManager) Invalidate(productionID string) {
	m.cache.Remove(productionID)
}

// Drop removes a production's forest for good, called when the production
// itself is deleted.
func (m *ForestManager) Drop(productionID string) {
	m.Invalidate(productionID)
}

// acquire takes the production's lock, creating it on first use. The
// refcount keeps the lock alive for as long as any caller holds or waits
// on it, so two callers for the same production always contend on the
// same mutex no matter what the forest cache evicts in between.
func (m *ForestManager) acquire(productionID string) *productionLock {
	m.mu.Lock()
	l, ok := m.locks[productionID]
	if !ok {
		l = &productionLock{}
		m.locks[productionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return l
}

func (m *ForestManager) release(productionID string, l *productionLock) {
	l.mu.Unlock()

	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, productionID)
	}
	m.mu.Unlock()
}

func (m *ForestManager) load(ctx context.Context, productionID string) (*turntree.Forest, error) {
	turns, err := m.turnRepo.ListTurns(ctx, productionID)
	if err != nil {
		return nil, fmt.Errorf("load turns for production %s: %w", productionID, err)
	}
	forest, err := turntree.Build(productionID, turns)
	if err != nil {
		// A build failure means the stored forest is corrupt, which is an
		// implementation bug rather than a user-facing condition.
		return nil, fmt.Errorf("rebuild forest for production %s: %w", productionID, err)
	}
	m.logger.Debug("forest loaded", "production_id", productionID, "turns", forest.Len())
	return forest, nil
}
