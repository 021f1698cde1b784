// Package commit defines the content-addressed commit and the in-memory
// graph index that tracks heads and parent pointers over a set of commits.
package commit

// Commit is an immutable node in the edit DAG. Exactly one of the following
// holds: no parents (root), BaseRef only (linear edit), or BaseRef+MergeRef+
// MergeBaseRef all set (merge commit).
type Commit struct {
	Ref          string
	BaseRef      string
	MergeRef     string
	MergeBaseRef string
	Delta        []byte
	EditMetadata []byte
	UserID       string
	ClientID     string

	// RemoteSyncID is the only mutable field: it holds whatever cursor the
	// remote (or another local store) acknowledged it with. Index.Insert
	// overwrites it when a re-insert carries a different non-empty cursor,
	// and Index.AckRemoteSync overwrites it unconditionally; the Index never
	// clears it back to "".
	RemoteSyncID string
}

// IsRoot reports whether c has no parents.
func (c Commit) IsRoot() bool {
	return c.BaseRef == "" && c.MergeRef == ""
}

// IsMerge reports whether c has two parents and a merge base.
func (c Commit) IsMerge() bool {
	return c.BaseRef != "" && c.MergeRef != ""
}

// Parents returns the commit's parent refs in (base, merge) order. A root
// commit returns no refs; a linear edit returns one.
func (c Commit) Parents() []string {
	switch {
	case c.MergeRef != "":
		return []string{c.BaseRef, c.MergeRef}
	case c.BaseRef != "":
		return []string{c.BaseRef}
	default:
		return nil
	}
}

// Validate checks the structural invariant from spec.md §3: exactly one of
// root / linear-edit / merge-commit shapes, and that a merge commit also
// carries a merge base.
func (c Commit) Validate() error {
	switch {
	case c.BaseRef == "" && c.MergeRef == "" && c.MergeBaseRef == "":
		return nil // root
	case c.BaseRef != "" && c.MergeRef == "" && c.MergeBaseRef == "":
		return nil // linear edit
	case c.BaseRef != "" && c.MergeRef != "" && c.MergeBaseRef != "":
		return nil // merge
	default:
		return errInvalidShape
	}
}
