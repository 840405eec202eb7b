// Package turntree holds the in-memory representation of one production's
// conversation forest and the pure navigation algorithms over it.
//
// The forest is an index, not the source of truth: it is rebuilt from the
// persistence adapter's flat turn list at any time, so callers may drop and
// reload it freely as long as mutations are written through. Parent pointers
// are the only stored relationship; children lists are derived, keyed by
// parent id, ordered by (created_at, id).
package turntree

import (
	"fmt"
	"sort"

	"stagehand/internal/domain/models"
)

// rootKey indexes the children of the (virtual) forest root.
const rootKey = ""

// Forest is the turn index for a single production. It is not safe for
// concurrent use; the owning service serializes access per production.
type Forest struct {
	productionID string
	turns        map[string]*models.Turn
	children     map[string][]string // parent id (rootKey for nil) -> ordered child ids
}

// New returns an empty forest for a production.
func New(productionID string) *Forest {
	return &Forest{
		productionID: productionID,
		turns:        make(map[string]*models.Turn),
		children:     make(map[string][]string),
	}
}

// Build reconstructs a forest from the flat persisted turn list. Turns may
// arrive in any order; children are sorted by (created_at, id) so rebuilds
// are deterministic even under equal timestamps. A turn whose parent is
// missing or belongs to another production is a corruption of the stored
// forest and fails the build.
func Build(productionID string, turns []*models.Turn) (*Forest, error) {
	f := New(productionID)
	for _, t := range turns {
		if t.ProductionID != productionID {
			return nil, fmt.Errorf("turn %s belongs to production %s, not %s", t.ID, t.ProductionID, productionID)
		}
		if _, dup := f.turns[t.ID]; dup {
			return nil, fmt.Errorf("duplicate turn id %s", t.ID)
		}
		f.turns[t.ID] = t
	}
	for _, t := range f.turns {
		if t.ParentID != nil {
			if _, ok := f.turns[*t.ParentID]; !ok {
				return nil, fmt.Errorf("turn %s references missing parent %s", t.ID, *t.ParentID)
			}
		}
		key := childKey(t.ParentID)
		f.children[key] = append(f.children[key], t.ID)
	}
	for key := range f.children {
		f.sortSiblings(key)
	}
	return f, nil
}

func childKey(parentID *string) string {
	if parentID == nil {
		return rootKey
	}
	return *parentID
}

func (f *Forest) sortSiblings(key string) {
	ids := f.children[key]
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := f.turns[ids[i]], f.turns[ids[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// ProductionID returns the production this forest belongs to.
func (f *Forest) ProductionID() string {
	return f.productionID
}

// Len returns the number of turns in the forest.
func (f *Forest) Len() int {
	return len(f.turns)
}

// Get returns the turn with the given id.
func (f *Forest) Get(id string) (*models.Turn, bool) {
	t, ok := f.turns[id]
	return t, ok
}

// Contains reports whether a turn exists in the forest.
func (f *Forest) Contains(id string) bool {
	_, ok := f.turns[id]
	return ok
}

// Children returns the ordered child ids under parentID (nil for the
// forest's top-level entry points). The returned slice is a copy.
func (f *Forest) Children(parentID *string) []string {
	ids := f.children[childKey(parentID)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Roots returns the ordered top-level turn ids.
func (f *Forest) Roots() []string {
	return f.Children(nil)
}

// Parent returns the parent id of a turn, nil for roots.
func (f *Forest) Parent(id string) (*string, bool) {
	t, ok := f.turns[id]
	if !ok {
		return nil, false
	}
	return t.ParentID, true
}

// Insert adds a turn to the forest. The parent must already be present
// (or nil for a root) and the id must be new. Siblings keep (created_at,
// id) order, which for freshly created turns is plain append order.
func (f *Forest) Insert(t *models.Turn) error {
	if t.ProductionID != f.productionID {
		return fmt.Errorf("turn %s belongs to production %s, not %s", t.ID, t.ProductionID, f.productionID)
	}
	if _, dup := f.turns[t.ID]; dup {
		return fmt.Errorf("turn %s already in forest", t.ID)
	}
	if t.ParentID != nil {
		if _, ok := f.turns[*t.ParentID]; !ok {
			return fmt.Errorf("turn %s references missing parent %s", t.ID, *t.ParentID)
		}
	}
	f.turns[t.ID] = t
	key := childKey(t.ParentID)
	f.children[key] = append(f.children[key], t.ID)
	f.sortSiblings(key)
	return nil
}

// Subtree returns the ids of a turn and all its descendants, parent before
// child. Empty if the turn is not present.
func (f *Forest) Subtree(id string) []string {
	if !f.Contains(id) {
		return nil
	}
	var out []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		queue = append(queue, f.children[cur]...)
	}
	return out
}

// RemovedSubtree is the exact pre-removal state needed to undo a Remove
// when the persistence delete fails: the removed turns, their internal
// child lists, and the untouched sibling list of the removed root's
// parent (preserving the root's position among its siblings).
type RemovedSubtree struct {
	parentKey      string
	parentChildren []string
	turns          map[string]*models.Turn
	childLists     map[string][]string
}

// IDs returns the removed turn ids, parent before child.
func (rs *RemovedSubtree) IDs() []string {
	var out []string
	var walk func(id string)
	walk = func(id string) {
		out = append(out, id)
		for _, c := range rs.childLists[id] {
			walk(c)
		}
	}
	for _, id := range rs.parentChildren {
		if _, removed := rs.turns[id]; removed {
			walk(id)
		}
	}
	return out
}

// Remove detaches a turn and its entire subtree from the forest and
// returns a snapshot for rollback. Returns nil if the turn is absent.
func (f *Forest) Remove(id string) *RemovedSubtree {
	t, ok := f.turns[id]
	if !ok {
		return nil
	}
	key := childKey(t.ParentID)
	rs := &RemovedSubtree{
		parentKey:      key,
		parentChildren: append([]string(nil), f.children[key]...),
		turns:          make(map[string]*models.Turn),
		childLists:     make(map[string][]string),
	}
	for _, sid := range f.Subtree(id) {
		rs.turns[sid] = f.turns[sid]
		if kids, ok := f.children[sid]; ok {
			rs.childLists[sid] = kids
		}
		delete(f.turns, sid)
		delete(f.children, sid)
	}
	f.children[key] = withoutID(f.children[key], id)
	if len(f.children[key]) == 0 && key != rootKey {
		delete(f.children, key)
	}
	return rs
}

// Restore undoes a Remove, putting every removed turn back at its original
// position. Only valid against the forest the snapshot came from, before
// any intervening mutation of the same sibling group.
func (f *Forest) Restore(rs *RemovedSubtree) {
	if rs == nil {
		return
	}
	for id, t := range rs.turns {
		f.turns[id] = t
	}
	for id, kids := range rs.childLists {
		f.children[id] = kids
	}
	f.children[rs.parentKey] = rs.parentChildren
}

// All returns every turn in the forest in no particular order.
func (f *Forest) All() []*models.Turn {
	out := make([]*models.Turn, 0, len(f.turns))
	for _, t := range f.turns {
		out = append(out, t)
	}
	return out
}

func withoutID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
