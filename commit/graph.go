package commit

import (
	"errors"
	"fmt"
	"sort"
)

var errInvalidShape = errors.New("commit: must be a root, a linear edit, or a merge with base+merge+mergeBase all set")

// ErrMissingParent is returned by Index.Insert when a commit names a parent
// ref that has not been inserted yet. The invariant in spec.md §3 ("all
// referenced parents already exist locally before the commit is accepted")
// is enforced here, not left to callers.
var ErrMissingParent = errors.New("commit: parent not present in graph")

// ErrDuplicateRef is returned by Index.Insert for a ref already present with
// different content; re-inserting byte-identical content is a silent no-op
// (idempotent ingest, spec.md §8).
var ErrDuplicateRef = errors.New("commit: ref already present with different content")

// Index is the in-memory ref -> commit map plus the current head set. It is
// exclusively owned by one engine (spec.md §5); it is not safe for
// concurrent use from multiple goroutines without external locking.
type Index struct {
	commits map[string]Commit
	heads   map[string]struct{}
	// hasChild marks refs that some inserted commit names as a parent, so we
	// know when a commit stops being a head.
	hasChild map[string]bool
}

// NewIndex returns an empty graph index.
func NewIndex() *Index {
	return &Index{
		commits:  make(map[string]Commit),
		heads:    make(map[string]struct{}),
		hasChild: make(map[string]bool),
	}
}

// Get returns the commit for ref, if present.
func (g *Index) Get(ref string) (Commit, bool) {
	c, ok := g.commits[ref]
	return c, ok
}

// Len returns the number of commits in the graph.
func (g *Index) Len() int {
	return len(g.commits)
}

// Has reports whether ref is already present.
func (g *Index) Has(ref string) bool {
	_, ok := g.commits[ref]
	return ok
}

// Insert adds c to the graph. It is idempotent: inserting a ref that is
// already present with byte-identical content (other than RemoteSyncID) is a
// no-op that returns nil. Inserting a ref whose parents are not yet present
// returns ErrMissingParent.
func (g *Index) Insert(c Commit) error {
	if existing, ok := g.commits[c.Ref]; ok {
		if !sameContent(existing, c) {
			return fmt.Errorf("%w: %s", ErrDuplicateRef, c.Ref)
		}
		// Re-insertion with a newer RemoteSyncID is an ack, not a duplicate
		// error (spec.md §9, open question).
		if c.RemoteSyncID != "" && existing.RemoteSyncID != c.RemoteSyncID {
			existing.RemoteSyncID = c.RemoteSyncID
			g.commits[c.Ref] = existing
		}
		return nil
	}

	for _, p := range c.Parents() {
		if !g.Has(p) {
			return fmt.Errorf("%w: %s references %s", ErrMissingParent, c.Ref, p)
		}
	}

	g.commits[c.Ref] = c
	for _, p := range c.Parents() {
		delete(g.heads, p)
		g.hasChild[p] = true
	}
	if !g.hasChild[c.Ref] {
		g.heads[c.Ref] = struct{}{}
	}
	return nil
}

// AckRemoteSync records that ref has been acknowledged by a remote with the
// given cursor, without requiring the caller to re-supply the full commit.
func (g *Index) AckRemoteSync(ref, remoteSyncID string) bool {
	c, ok := g.commits[ref]
	if !ok {
		return false
	}
	c.RemoteSyncID = remoteSyncID
	g.commits[ref] = c
	return true
}

// Heads returns the current head refs, lexicographically sorted so callers
// get the deterministic ordering the merge loop relies on (spec.md §4.5).
func (g *Index) Heads() []string {
	out := make([]string, 0, len(g.heads))
	for h := range g.heads {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func sameContent(a, b Commit) bool {
	if a.BaseRef != b.BaseRef || a.MergeRef != b.MergeRef || a.MergeBaseRef != b.MergeBaseRef {
		return false
	}
	if string(a.Delta) != string(b.Delta) || string(a.EditMetadata) != string(b.EditMetadata) {
		return false
	}
	return a.UserID == b.UserID && a.ClientID == b.ClientID
}

// LowestCommonAncestor finds the LCA of l and r by two-pointer BFS in
// reverse-parent order, as specified in spec.md §4.5 step 2. Ties (several
// commits reachable from both at maximum depth) are broken by
// lexicographically smallest ref.
func (g *Index) LowestCommonAncestor(l, r string) (string, bool) {
	depthL := g.ancestorDepths(l)
	depthR := g.ancestorDepths(r)

	bestRef := ""
	bestDepth := -1
	for ref := range depthL {
		if _, ok := depthR[ref]; !ok {
			continue
		}
		// depth is the longest parent chain from ref back to a root.
		depth := 0
		for _, d := range g.ancestorDepths(ref) {
			if d > depth {
				depth = d
			}
		}
		if depth > bestDepth || (depth == bestDepth && (bestRef == "" || ref < bestRef)) {
			bestDepth = depth
			bestRef = ref
		}
	}
	if bestRef == "" {
		return "", false
	}
	return bestRef, true
}

// ancestorDepths walks backwards from ref, returning the maximum number of
// hops from ref to every ancestor (ref itself has depth 0).
func (g *Index) ancestorDepths(ref string) map[string]int {
	depths := map[string]int{ref: 0}
	queue := []string{ref}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, ok := g.commits[cur]
		if !ok {
			continue
		}
		for _, p := range c.Parents() {
			d := depths[cur] + 1
			if existing, seen := depths[p]; !seen || d > existing {
				depths[p] = d
				queue = append(queue, p)
			}
		}
	}
	return depths
}

// WalkToRoot returns the chain of commits from root to ref (inclusive),
// following BaseRef for linear ancestry. Used to recompute a document by
// replaying deltas (spec.md §3, "Document snapshot").
func (g *Index) WalkToRoot(ref string) ([]Commit, error) {
	var chain []Commit
	for ref != "" {
		c, ok := g.commits[ref]
		if !ok {
			return nil, fmt.Errorf("commit: %s not found while walking to root", ref)
		}
		chain = append(chain, c)
		ref = c.BaseRef
	}
	// reverse in place
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
