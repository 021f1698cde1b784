package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/untoldecay/docsync/broadcast"
	"github.com/untoldecay/docsync/jsondiff"
	"github.com/untoldecay/docsync/leader"
	"github.com/untoldecay/docsync/remote"
	"github.com/untoldecay/docsync/remote/memremote"
	"github.com/untoldecay/docsync/store"
	"github.com/untoldecay/docsync/store/memstore"
	"github.com/untoldecay/docsync/syncstatus"
)

var fastElection = leader.Config{ElectionTimeout: 15 * time.Millisecond}

var fastReconnect = remote.ReconnectPolicy{InitialDelayMs: 40, ReconnectBackoffMultiplier: 1, MaxReconnectDelayMs: 80}

func newTestStore(t *testing.T) store.LocalStore {
	t.Helper()
	s, err := memstore.New(context.Background(), "user-1", "client-1", nil)
	if err != nil {
		t.Fatalf("memstore.New: %v", err)
	}
	return s
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestSingleClientTwoEdits(t *testing.T) {
	ch := broadcast.NewLocal()
	s := newTestStore(t)
	e, err := New(context.Background(), Config{
		UserID: "user-1", ClientID: "client-1",
		Store: s, Differ: jsondiff.New(), Broadcast: ch,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(context.Background())

	if err := e.UpdateDoc([]byte(`{}`), []byte(`"init"`)); err != nil {
		t.Fatalf("UpdateDoc 1: %v", err)
	}
	if err := e.UpdateDoc([]byte(`{"hello":"world"}`), []byte(`"add"`)); err != nil {
		t.Fatalf("UpdateDoc 2: %v", err)
	}

	waitUntil(t, func() bool {
		rows, _, err := s.GetLocalCommitsEvent(context.Background(), 0)
		return err == nil && len(rows) == 2
	})

	rows, _, err := s.GetLocalCommitsEvent(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetLocalCommitsEvent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 persisted commits, got %d", len(rows))
	}
	if rows[1].BaseRef != rows[0].Ref {
		t.Fatalf("expected second commit to chain off the first: %+v", rows)
	}

	var doc map[string]any
	if err := json.Unmarshal(e.savedDocSnapshot(), &doc); err != nil {
		t.Fatalf("unmarshal doc: %v", err)
	}
	if doc["hello"] != "world" {
		t.Fatalf("expected doc hello=world, got %v", doc)
	}
}

// savedDocSnapshot is a tiny test-only accessor; production code reaches the
// doc exclusively through SubscribeDoc / GetCommitDoc.
func (e *Engine) savedDocSnapshot() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.savedDoc
}

func TestTwoEnginesShareStoreWithoutExtraCommit(t *testing.T) {
	ch := broadcast.NewLocal()
	s := newTestStore(t)

	a, err := New(context.Background(), Config{
		UserID: "user-1", ClientID: "client-a",
		Store: s, Differ: jsondiff.New(), Broadcast: ch,
	})
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	defer a.Shutdown(context.Background())

	b, err := New(context.Background(), Config{
		UserID: "user-1", ClientID: "client-b",
		Store: s, Differ: jsondiff.New(), Broadcast: ch,
	})
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	defer b.Shutdown(context.Background())

	var bDoc []byte
	b.SubscribeDoc(func(doc []byte) { bDoc = doc })

	if err := a.UpdateDoc([]byte(`{"hello":"world"}`), nil); err != nil {
		t.Fatalf("UpdateDoc: %v", err)
	}

	waitUntil(t, func() bool {
		var doc map[string]any
		if len(bDoc) == 0 {
			return false
		}
		_ = json.Unmarshal(bDoc, &doc)
		return doc["hello"] == "world"
	})

	rows, _, err := s.GetLocalCommitsEvent(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetLocalCommitsEvent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one commit (no commit created by B), got %d", len(rows))
	}
}

func TestConcurrentForkMerges(t *testing.T) {
	ch := broadcast.NewLocal()
	s := newTestStore(t)

	a, err := New(context.Background(), Config{
		UserID: "user-1", ClientID: "client-a",
		Store: s, Differ: jsondiff.New(), Broadcast: ch,
	})
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	defer a.Shutdown(context.Background())

	if err := a.UpdateDoc([]byte(`{"hello":"world"}`), nil); err != nil {
		t.Fatalf("seed UpdateDoc: %v", err)
	}
	waitUntil(t, func() bool {
		rows, _, _ := s.GetLocalCommitsEvent(context.Background(), 0)
		return len(rows) == 1
	})

	b, err := New(context.Background(), Config{
		UserID: "user-1", ClientID: "client-b",
		Store: s, Differ: jsondiff.New(), Broadcast: ch,
	})
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	defer b.Shutdown(context.Background())
	waitUntil(t, func() bool { return len(b.savedDocSnapshot()) > 0 })

	if err := a.UpdateDoc([]byte(`{"hello":"world","a":1}`), nil); err != nil {
		t.Fatalf("a edit: %v", err)
	}
	if err := b.UpdateDoc([]byte(`{"hello":"world","b":2}`), nil); err != nil {
		t.Fatalf("b edit: %v", err)
	}

	waitUntil(t, func() bool {
		var doc map[string]any
		snap := a.savedDocSnapshot()
		if len(snap) == 0 {
			return false
		}
		_ = json.Unmarshal(snap, &doc)
		_, hasA := doc["a"]
		_, hasB := doc["b"]
		return hasA && hasB
	})

	var docA, docB map[string]any
	_ = json.Unmarshal(a.savedDocSnapshot(), &docA)
	waitUntil(t, func() bool {
		var doc map[string]any
		snap := b.savedDocSnapshot()
		if len(snap) == 0 {
			return false
		}
		_ = json.Unmarshal(snap, &doc)
		_, hasA := doc["a"]
		_, hasB := doc["b"]
		return hasA && hasB
	})
	_ = json.Unmarshal(b.savedDocSnapshot(), &docB)

	if docA["hello"] != "world" || docA["a"] != float64(1) || docA["b"] != float64(2) {
		t.Fatalf("expected merged doc on A, got %v", docA)
	}
	if docB["hello"] != "world" || docB["a"] != float64(1) || docB["b"] != float64(2) {
		t.Fatalf("expected merged doc on B, got %v", docB)
	}
}

// TestRemoteDisconnectAndResume exercises spec.md §8 scenario 4: edits made
// while the remote is unreachable stay pending, and once the remote comes
// back the leader's reconnect loop re-pushes them without engine restart.
func TestRemoteDisconnectAndResume(t *testing.T) {
	ch := broadcast.NewLocal()
	s := newTestStore(t)
	server := memremote.NewServer()

	e, err := New(context.Background(), Config{
		UserID: "user-1", ClientID: "client-a",
		Store: s, Differ: jsondiff.New(), Broadcast: ch,
		RemoteFactory: memremote.Factory(server), ElectionConfig: fastElection, Reconnect: fastReconnect,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(context.Background())

	waitUntil(t, func() bool { return e.IsRemoteLeader() })

	if err := e.UpdateDoc([]byte(`{"a":1}`), nil); err != nil {
		t.Fatalf("UpdateDoc 1: %v", err)
	}
	waitUntil(t, func() bool { return len(server.Snapshot()) == 1 })

	server.SetOnline(false)
	if err := e.UpdateDoc([]byte(`{"a":1,"b":2}`), nil); err != nil {
		t.Fatalf("UpdateDoc 2: %v", err)
	}

	waitUntil(t, func() bool {
		return e.status.Snapshot().RemoteSave == syncstatus.SaveError
	})

	server.SetOnline(true)

	waitUntil(t, func() bool { return len(server.Snapshot()) == 2 })

	waitUntil(t, func() bool {
		rows, _, err := s.GetLocalCommitsEvent(context.Background(), 0)
		if err != nil || len(rows) != 2 {
			return false
		}
		for _, r := range rows {
			if r.RemoteSyncID == "" {
				return false
			}
		}
		return true
	})
}

// stateFactory is a minimal remote.Factory that immediately reports a fixed
// remote state, used to exercise the leader -> non-leader remote-state
// proxying spec.md §4.7 requires without needing memremote's loopback server
// to model remote-state events.
type stateFactory struct {
	state store.RemoteState
}

func (f stateFactory) connect(_ context.Context, _ string, _ store.RemoteSyncInfo, onEvent func(remote.Event)) (remote.RemoteHandle, error) {
	onEvent(remote.Event{Kind: remote.EventReady})
	onEvent(remote.Event{Kind: remote.EventRemoteState, State: f.state})
	return stubRemoteHandle{}, nil
}

type stubRemoteHandle struct{}

func (stubRemoteHandle) SendCommits(_ context.Context, _ []store.CommitRow) ([]string, string, error) {
	return nil, "", nil
}
func (stubRemoteHandle) Close() error { return nil }

// TestNonLeaderProxiesRemoteState exercises spec.md §8 scenario 5-style
// leader/follower behavior: the engine that loses (or never wins) the
// remote-leader election surfaces the leader's remote-* sync status as its
// own, rather than staying permanently offline.
func TestNonLeaderProxiesRemoteState(t *testing.T) {
	ch := broadcast.NewLocal()
	s := newTestStore(t)
	state := store.RemoteState{Connect: "online", Read: "ready", Save: "ready"}
	factory := stateFactory{state: state}.connect

	a, err := New(context.Background(), Config{
		UserID: "user-1", ClientID: "client-a",
		Store: s, Differ: jsondiff.New(), Broadcast: ch,
		RemoteFactory: factory, ElectionConfig: fastElection,
	})
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	defer a.Shutdown(context.Background())

	b, err := New(context.Background(), Config{
		UserID: "user-1", ClientID: "client-b",
		Store: s, Differ: jsondiff.New(), Broadcast: ch,
		RemoteFactory: factory, ElectionConfig: fastElection,
	})
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	defer b.Shutdown(context.Background())

	waitUntil(t, func() bool { return a.IsRemoteLeader() || b.IsRemoteLeader() })

	follower := a
	if a.IsRemoteLeader() {
		follower = b
	}

	waitUntil(t, func() bool {
		snap := follower.status.Snapshot()
		return snap.RemoteConnect == syncstatus.RemoteOnline &&
			snap.RemoteRead == syncstatus.RemoteReadReady &&
			snap.RemoteSave == syncstatus.SaveReady
	})
}

// TestResetRemoteData exercises spec.md §8 scenario 6: resetting a doc's
// remote-sync bookkeeping makes every commit look unsynced again, so the
// next leader connection re-pushes everything from scratch.
func TestResetRemoteData(t *testing.T) {
	ch := broadcast.NewLocal()
	s := newTestStore(t)
	server := memremote.NewServer()

	e, err := New(context.Background(), Config{
		UserID: "user-1", ClientID: "client-a",
		Store: s, Differ: jsondiff.New(), Broadcast: ch,
		RemoteFactory: memremote.Factory(server), ElectionConfig: fastElection, Reconnect: fastReconnect,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown(context.Background())

	waitUntil(t, func() bool { return e.IsRemoteLeader() })

	if err := e.UpdateDoc([]byte(`{"a":1}`), nil); err != nil {
		t.Fatalf("UpdateDoc: %v", err)
	}
	waitUntil(t, func() bool {
		rows, _, err := s.GetLocalCommitsEvent(context.Background(), 0)
		return err == nil && len(rows) == 1 && rows[0].RemoteSyncID != ""
	})

	if err := s.ResetDocRemoteSyncData(context.Background()); err != nil {
		t.Fatalf("ResetDocRemoteSyncData: %v", err)
	}

	rows, _, err := s.GetLocalCommitsEvent(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetLocalCommitsEvent: %v", err)
	}
	if rows[0].RemoteSyncID != "" {
		t.Fatalf("expected RemoteSyncID cleared after reset, got %q", rows[0].RemoteSyncID)
	}

	e.disconnectRemote()
	e.connectRemote()

	waitUntil(t, func() bool {
		rows, _, err := s.GetLocalCommitsEvent(context.Background(), 0)
		return err == nil && len(rows) == 1 && rows[0].RemoteSyncID != ""
	})
}
