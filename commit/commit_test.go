package commit

import (
	"errors"
	"testing"
)

func TestCommitValidate(t *testing.T) {
	cases := []struct {
		name    string
		c       Commit
		wantErr bool
	}{
		{"root", Commit{Ref: "r1"}, false},
		{"linear edit", Commit{Ref: "r2", BaseRef: "r1"}, false},
		{"merge", Commit{Ref: "r3", BaseRef: "r1", MergeRef: "r2", MergeBaseRef: "root"}, false},
		{"base without merge base", Commit{Ref: "bad", BaseRef: "r1", MergeRef: "r2"}, true},
		{"merge base without parents", Commit{Ref: "bad", MergeBaseRef: "root"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.c.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCommitParents(t *testing.T) {
	root := Commit{Ref: "root"}
	if len(root.Parents()) != 0 || !root.IsRoot() {
		t.Fatalf("expected root to have no parents")
	}

	edit := Commit{Ref: "e1", BaseRef: "root"}
	if got := edit.Parents(); len(got) != 1 || got[0] != "root" {
		t.Fatalf("expected single parent [root], got %v", got)
	}

	merge := Commit{Ref: "m1", BaseRef: "e1", MergeRef: "e2", MergeBaseRef: "root"}
	if !merge.IsMerge() {
		t.Fatalf("expected IsMerge to be true")
	}
	if got := merge.Parents(); len(got) != 2 || got[0] != "e1" || got[1] != "e2" {
		t.Fatalf("expected parents [e1 e2], got %v", got)
	}
}

func TestIndexInsertRequiresParents(t *testing.T) {
	idx := NewIndex()
	err := idx.Insert(Commit{Ref: "e1", BaseRef: "root"})
	if !errors.Is(err, ErrMissingParent) {
		t.Fatalf("expected ErrMissingParent, got %v", err)
	}
}

func TestIndexInsertIdempotent(t *testing.T) {
	idx := NewIndex()
	root := Commit{Ref: "root"}
	if err := idx.Insert(root); err != nil {
		t.Fatalf("insert root: %v", err)
	}
	if err := idx.Insert(root); err != nil {
		t.Fatalf("re-insert identical root should be a no-op, got %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected exactly one commit after re-insert, got %d", idx.Len())
	}

	dup := Commit{Ref: "root", BaseRef: "other"}
	if err := idx.Insert(dup); !errors.Is(err, ErrDuplicateRef) {
		t.Fatalf("expected ErrDuplicateRef for differing content at same ref, got %v", err)
	}
}

func TestIndexHeadsAndLCA(t *testing.T) {
	idx := NewIndex()
	root := Commit{Ref: "root"}
	e1 := Commit{Ref: "e1", BaseRef: "root"}
	e2 := Commit{Ref: "e2", BaseRef: "e1"}
	f1 := Commit{Ref: "f1", BaseRef: "e1"}
	for _, c := range []Commit{root, e1, e2, f1} {
		if err := idx.Insert(c); err != nil {
			t.Fatalf("insert %s: %v", c.Ref, err)
		}
	}

	heads := idx.Heads()
	if len(heads) != 2 || heads[0] != "e2" || heads[1] != "f1" {
		t.Fatalf("expected heads [e2 f1] (sorted), got %v", heads)
	}

	base, ok := idx.LowestCommonAncestor("e2", "f1")
	if !ok || base != "e1" {
		t.Fatalf("expected LCA e1, got %s (ok=%v)", base, ok)
	}
}

func TestIndexWalkToRoot(t *testing.T) {
	idx := NewIndex()
	root := Commit{Ref: "root"}
	e1 := Commit{Ref: "e1", BaseRef: "root"}
	e2 := Commit{Ref: "e2", BaseRef: "e1"}
	for _, c := range []Commit{root, e1, e2} {
		if err := idx.Insert(c); err != nil {
			t.Fatalf("insert %s: %v", c.Ref, err)
		}
	}

	chain, err := idx.WalkToRoot("e2")
	if err != nil {
		t.Fatalf("WalkToRoot: %v", err)
	}
	if len(chain) != 3 || chain[0].Ref != "root" || chain[1].Ref != "e1" || chain[2].Ref != "e2" {
		t.Fatalf("expected [root e1 e2], got %+v", chain)
	}
}

func TestIndexAckRemoteSync(t *testing.T) {
	idx := NewIndex()
	root := Commit{Ref: "root"}
	if err := idx.Insert(root); err != nil {
		t.Fatalf("insert root: %v", err)
	}
	if !idx.AckRemoteSync("root", "cursor-1") {
		t.Fatalf("expected AckRemoteSync to find root")
	}
	c, _ := idx.Get("root")
	if c.RemoteSyncID != "cursor-1" {
		t.Fatalf("expected RemoteSyncID cursor-1, got %q", c.RemoteSyncID)
	}
	if idx.AckRemoteSync("missing", "cursor-2") {
		t.Fatalf("expected AckRemoteSync to report false for unknown ref")
	}
}
