// Package jsondiff is docsync's reference Differ (spec.md §1: "an
// exemplary persistence backend ... is specified as an interface, not as a
// specific storage technology" applies equally to the Differ collaborator).
// Documents are arbitrary flat-or-nested JSON objects; deltas are a small
// set/unset patch computed with tidwall/gjson and applied with
// tidwall/sjson; merges reconcile per top-level key with a three-way
// base/left/right rule ("whichever side changed wins"), iterating the key
// union in lexicographic order so independent clients derive the same
// merge ref.
package jsondiff

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/untoldecay/docsync/differ"
)

// Differ is the reference implementation of differ.Differ over JSON object
// documents.
type Differ struct{}

// New returns the reference JSON differ.
func New() Differ { return Differ{} }

// patch is the wire shape of a delta: keys to set (value as raw JSON) and
// keys to remove. Keeping it this small keeps three-way merge a matter of
// reconciling two small patches instead of two whole documents.
type patch struct {
	Set   map[string]json.RawMessage `json:"set,omitempty"`
	Unset []string                   `json:"unset,omitempty"`
}

func emptyDoc(doc []byte) []byte {
	if len(doc) == 0 {
		return []byte("{}")
	}
	return doc
}

// Migrate is the identity migration: docsync's reference differ has no
// schema versions of its own. A host with real schema evolution replaces
// this method, not this package.
func (Differ) Migrate(doc, metadata []byte) ([]byte, []byte, error) {
	return emptyDoc(doc), metadata, nil
}

// Diff computes the set/unset patch between two JSON objects. An empty
// oldDoc (no document yet) followed by any non-empty newDoc, even `{}`, is
// a change.
func (Differ) Diff(oldDoc, newDoc []byte) ([]byte, bool, error) {
	created := len(oldDoc) == 0 && len(newDoc) > 0
	oldDoc, newDoc = emptyDoc(oldDoc), emptyDoc(newDoc)
	if !gjson.ValidBytes(oldDoc) || !gjson.ValidBytes(newDoc) {
		return nil, false, fmt.Errorf("jsondiff: invalid JSON document")
	}

	oldObj := gjson.ParseBytes(oldDoc).Map()
	newObj := gjson.ParseBytes(newDoc).Map()

	p := patch{Set: map[string]json.RawMessage{}}
	for k, v := range newObj {
		old, existed := oldObj[k]
		if !existed || old.Raw != v.Raw {
			p.Set[k] = json.RawMessage(v.Raw)
		}
	}
	for k := range oldObj {
		if _, stillThere := newObj[k]; !stillThere {
			p.Unset = append(p.Unset, k)
		}
	}

	if len(p.Set) == 0 && len(p.Unset) == 0 && !created {
		return nil, false, nil
	}
	delta, err := json.Marshal(p)
	if err != nil {
		return nil, false, fmt.Errorf("jsondiff: marshal delta: %w", err)
	}
	return delta, true, nil
}

// Patch applies a set/unset delta to doc.
func (Differ) Patch(doc, delta []byte) ([]byte, error) {
	doc = emptyDoc(doc)
	if len(delta) == 0 {
		return doc, nil
	}
	var p patch
	if err := json.Unmarshal(delta, &p); err != nil {
		return nil, fmt.Errorf("jsondiff: unmarshal delta: %w", err)
	}

	out := doc
	for k, v := range p.Set {
		b, err := sjson.SetRawBytes(out, k, v)
		if err != nil {
			return nil, fmt.Errorf("jsondiff: set %q: %w", k, err)
		}
		out = b
	}
	for _, k := range p.Unset {
		b, err := sjson.DeleteBytes(out, k)
		if err != nil {
			return nil, fmt.Errorf("jsondiff: unset %q: %w", k, err)
		}
		out = b
	}
	return out, nil
}

// refInput is hashed by ComputeRef. Field order is fixed by struct layout so
// hashstructure's output is stable across processes.
type refInput struct {
	BaseRef      string
	MergeRef     string
	MergeBaseRef string
	Delta        string
	Metadata     string
}

// ComputeRef derives a content-addressed ref via FNV-based structural
// hashing (mitchellh/hashstructure), formatted as a short hex string.
func (Differ) ComputeRef(baseRef, mergeRef, mergeBaseRef string, delta, metadata []byte) (string, error) {
	h, err := hashstructure.Hash(refInput{
		BaseRef:      baseRef,
		MergeRef:     mergeRef,
		MergeBaseRef: mergeBaseRef,
		Delta:        string(delta),
		Metadata:     string(metadata),
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("jsondiff: compute ref: %w", err)
	}
	return fmt.Sprintf("%016x", h), nil
}

// Merge reconciles base/left/right documents key by key: a key changed on
// only one side takes that side's value; a key changed identically on both
// sides takes that value; a key changed differently on both sides is an
// advisory (Temp) conflict that prefers the left value, matching the
// deterministic L/R ordering the engine's merge loop already establishes
// (spec.md §4.5 step 1 picks L, R lexicographically, so "prefer left" is
// reproducible across clients).
func (d Differ) Merge(base, left, right []byte) (differ.MergeResult, error) {
	base, left, right = emptyDoc(base), emptyDoc(left), emptyDoc(right)
	if !gjson.ValidBytes(base) || !gjson.ValidBytes(left) || !gjson.ValidBytes(right) {
		return differ.MergeResult{}, fmt.Errorf("jsondiff: invalid JSON document")
	}

	baseObj := gjson.ParseBytes(base).Map()
	leftObj := gjson.ParseBytes(left).Map()
	rightObj := gjson.ParseBytes(right).Map()

	keySet := make(map[string]struct{}, len(baseObj)+len(leftObj)+len(rightObj))
	for _, m := range []map[string]gjson.Result{baseObj, leftObj, rightObj} {
		for k := range m {
			keySet[k] = struct{}{}
		}
	}
	orderedKeys := make([]string, 0, len(keySet))
	for k := range keySet {
		orderedKeys = append(orderedKeys, k)
	}
	sort.Strings(orderedKeys)

	conflict := false
	out := "{}"
	var err error
	for _, k := range orderedKeys {
		b, hasB := baseObj[k]
		l, hasL := leftObj[k]
		r, hasR := rightObj[k]

		leftChanged := !sameResult(b, hasB, l, hasL)
		rightChanged := !sameResult(b, hasB, r, hasR)

		var value gjson.Result
		var present bool
		switch {
		case !leftChanged && !rightChanged:
			value, present = b, hasB
		case leftChanged && !rightChanged:
			value, present = l, hasL
		case !leftChanged && rightChanged:
			value, present = r, hasR
		default: // both changed
			if sameResult(l, hasL, r, hasR) {
				value, present = l, hasL
			} else {
				conflict = true
				value, present = l, hasL // deterministic: left wins the advisory view
			}
		}

		if !present {
			continue
		}
		out, err = setRaw(out, k, value.Raw)
		if err != nil {
			return differ.MergeResult{}, err
		}
	}

	return differ.MergeResult{Doc: []byte(out), Temp: conflict}, nil
}

func setRaw(doc, key, raw string) (string, error) {
	b, err := sjson.SetRawBytes([]byte(doc), key, []byte(raw))
	if err != nil {
		return "", fmt.Errorf("jsondiff: merge set %q: %w", key, err)
	}
	return string(b), nil
}

func sameResult(a gjson.Result, hasA bool, b gjson.Result, hasB bool) bool {
	if hasA != hasB {
		return false
	}
	if !hasA {
		return true
	}
	return a.Raw == b.Raw
}
