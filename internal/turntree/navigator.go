package turntree

// Branch navigation primitives. All functions are pure reads over a
// forest; they never mutate and never touch persistence, so the UI and the
// turn service share one implementation of "which branch is in view".

// AncestorOnActivePath walks upward from activeID via parent references
// until it reaches one of the candidate ids, and returns that candidate.
// The candidates are typically one sibling group (children of a common
// parent). Returns false if no candidate is an ancestor of activeID,
// meaning the active branch diverges before reaching this sibling group.
func AncestorOnActivePath(f *Forest, activeID string, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	isCandidate := make(map[string]struct{}, len(candidates))
	for _, id := range candidates {
		isCandidate[id] = struct{}{}
	}
	cur := activeID
	for f.Contains(cur) {
		if _, ok := isCandidate[cur]; ok {
			return cur, true
		}
		parent, _ := f.Parent(cur)
		if parent == nil {
			return "", false
		}
		cur = *parent
	}
	return "", false
}

// LatestDescendant walks downward from id, choosing the last-inserted
// child at every level, until it reaches a leaf. Used when switching to a
// sibling branch so the view jumps to that branch's deepest known point
// rather than its root. "Latest" is insertion order, never recency of
// viewing. Returns id itself when it is a leaf or absent.
func LatestDescendant(f *Forest, id string) string {
	if !f.Contains(id) {
		return id
	}
	cur := id
	for {
		kids := f.children[cur]
		if len(kids) == 0 {
			return cur
		}
		cur = kids[len(kids)-1]
	}
}

// PathToRoot returns the ids from id up to its root, starting at id.
// Empty if id is not present.
func PathToRoot(f *Forest, id string) []string {
	if !f.Contains(id) {
		return nil
	}
	var out []string
	cur := id
	for {
		out = append(out, cur)
		parent, ok := f.Parent(cur)
		if !ok || parent == nil {
			return out
		}
		cur = *parent
	}
}

// Depth returns the number of turns on the path from id to its root,
// inclusive. Zero if id is not present.
func Depth(f *Forest, id string) int {
	return len(PathToRoot(f, id))
}

// SiblingStep moves the view left or right within memberID's sibling
// group: it locates the group member currently on the active path (falling
// back to memberID when the active branch diverges earlier), shifts the
// sibling index by delta, and returns the latest descendant of the target
// sibling as the new active turn. Returns false when the step would run
// past either end of the group, or when memberID is absent.
func SiblingStep(f *Forest, activeID, memberID string, delta int) (string, bool) {
	parent, ok := f.Parent(memberID)
	if !ok {
		return "", false
	}
	group := f.Children(parent)
	cur, ok := AncestorOnActivePath(f, activeID, group)
	if !ok {
		cur = memberID
	}
	idx := -1
	for i, id := range group {
		if id == cur {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}
	next := idx + delta
	if next < 0 || next >= len(group) {
		return "", false
	}
	return LatestDescendant(f, group[next]), true
}
