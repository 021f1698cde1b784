package memremote

import (
	"context"
	"testing"

	"github.com/untoldecay/docsync/remote"
	"github.com/untoldecay/docsync/store"
)

func TestFactoryPushAndSnapshot(t *testing.T) {
	s := NewServer()
	factory := Factory(s)

	var ready bool
	handle, err := factory(context.Background(), "user-1", store.RemoteSyncInfo{}, func(ev remote.Event) {
		if ev.Kind == remote.EventReady {
			ready = true
		}
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if !ready {
		t.Fatalf("expected EventReady on connect")
	}

	refs, cursor, err := handle.SendCommits(context.Background(), []store.CommitRow{{Ref: "r1"}, {Ref: "r2"}})
	if err != nil {
		t.Fatalf("SendCommits: %v", err)
	}
	if len(refs) != 2 || cursor == "" {
		t.Fatalf("expected 2 acked refs and a non-empty cursor, got refs=%v cursor=%q", refs, cursor)
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Ref != "r1" || snap[1].Ref != "r2" {
		t.Fatalf("expected server snapshot to contain both commits in push order, got %+v", snap)
	}
}

func TestFactoryRejectsWhenOffline(t *testing.T) {
	s := NewServer()
	s.SetOnline(false)

	_, err := Factory(s)(context.Background(), "user-1", store.RemoteSyncInfo{}, func(remote.Event) {})
	if err == nil {
		t.Fatalf("expected connecting to an offline server to fail")
	}
}

func TestSendCommitsFailsOnceServerGoesOffline(t *testing.T) {
	s := NewServer()
	handle, err := Factory(s)(context.Background(), "user-1", store.RemoteSyncInfo{}, func(remote.Event) {})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	s.SetOnline(false)
	if _, _, err := handle.SendCommits(context.Background(), []store.CommitRow{{Ref: "r1"}}); err == nil {
		t.Fatalf("expected SendCommits to fail once the server is offline")
	}
}

func TestPushIsIdempotentByRef(t *testing.T) {
	s := NewServer()
	if _, _, err := s.push([]store.CommitRow{{Ref: "r1"}}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, _, err := s.push([]store.CommitRow{{Ref: "r1"}}); err != nil {
		t.Fatalf("push (re-push): %v", err)
	}
	if len(s.Snapshot()) != 1 {
		t.Fatalf("expected re-pushing the same ref not to duplicate it, got %+v", s.Snapshot())
	}
}
