// Package differ declares the pure, I/O-free contract an engine needs to
// turn documents into deltas and back (spec.md §4.1). Implementations live
// outside this package — docsync ships a reference one in jsondiff — so the
// core never assumes a concrete document representation.
package differ

// MergeResult is the output of a three-way merge.
type MergeResult struct {
	Doc      []byte
	Metadata []byte
	// Temp marks an advisory merge: good enough to display while offline,
	// but not to be committed to the DAG (spec.md §4.5 step 3).
	Temp bool
}

// Differ is supplied by the host application. Every method must be pure:
// no I/O, no goroutines, no shared mutable state between calls. Errors
// returned here are caught at the engine boundary (spec.md §7) and never
// crash the engine.
type Differ interface {
	// Migrate may rewrite an older persisted (doc, metadata) pair on load.
	Migrate(doc, metadata []byte) ([]byte, []byte, error)

	// Diff returns the delta that turns oldDoc into newDoc, or (nil, false)
	// if there is no change.
	Diff(oldDoc, newDoc []byte) (delta []byte, changed bool, err error)

	// Patch applies delta to doc and returns the result.
	Patch(doc, delta []byte) ([]byte, error)

	// ComputeRef deterministically derives a commit ref from its content.
	// Equal inputs must always produce equal refs, including across
	// independent processes (spec.md §9).
	ComputeRef(baseRef, mergeRef, mergeBaseRef string, delta, metadata []byte) (string, error)

	// Merge performs a three-way merge of base/left/right documents.
	Merge(base, left, right []byte) (MergeResult, error)
}
