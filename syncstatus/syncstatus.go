// Package syncstatus tracks the five orthogonal axes spec.md §4.6 groups
// under one reported status: local storage, local save flight, remote
// connection, remote read, and remote save flight. It is deliberately a
// plain state holder with transition methods, not a state machine
// framework — a small register of independent enums, one per axis.
package syncstatus

import "sync"

// LocalRead is the local-store replay axis.
type LocalRead int

const (
	LocalReadLoading LocalRead = iota
	LocalReadReady
	LocalReadError
)

// SaveState backs both localSave and remoteSave, which share one shape.
type SaveState int

const (
	SaveReady SaveState = iota
	SavePending
	SaveSaving
	SaveError
)

// RemoteConnect is the transport connection axis.
type RemoteConnect int

const (
	RemoteOffline RemoteConnect = iota
	RemoteConnecting
	RemoteOnline
	RemoteConnectError
)

// RemoteRead is the remote initial-snapshot axis.
type RemoteRead int

const (
	RemoteReadOffline RemoteRead = iota
	RemoteReadLoading
	RemoteReadReady
	RemoteReadError
)

// Status is one immutable snapshot of all five axes, handed to subscribers.
type Status struct {
	LocalRead     LocalRead
	LocalSave     SaveState
	RemoteConnect RemoteConnect
	RemoteRead    RemoteRead
	RemoteSave    SaveState
}

// Reporter holds the live axes and notifies subscribers of each distinct
// change, debounced to at most one emit per flush (the caller is expected to
// call Flush once per micro-batch rather than after every individual
// mutator, per spec.md §4.6's "one emit per micro-batch").
type Reporter struct {
	mu   sync.Mutex
	cur  Status
	subs map[int]func(Status)
	next int

	dirty bool
}

// New returns a Reporter with localRead=loading and everything else at its
// quiescent default, matching an engine that has not yet replayed its store.
func New() *Reporter {
	return &Reporter{subs: make(map[int]func(Status))}
}

// Subscribe registers fn and immediately delivers the current snapshot.
func (r *Reporter) Subscribe(fn func(Status)) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = fn
	snap := r.cur
	r.mu.Unlock()

	fn(snap)
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Snapshot returns the current status without subscribing.
func (r *Reporter) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// SetLocalRead updates the localRead axis.
func (r *Reporter) SetLocalRead(v LocalRead) { r.mutate(func(s *Status) { s.LocalRead = v }) }

// SetLocalSave updates the localSave axis.
func (r *Reporter) SetLocalSave(v SaveState) { r.mutate(func(s *Status) { s.LocalSave = v }) }

// SetRemoteConnect updates the remoteConnect axis.
func (r *Reporter) SetRemoteConnect(v RemoteConnect) {
	r.mutate(func(s *Status) { s.RemoteConnect = v })
}

// SetRemoteRead updates the remoteRead axis.
func (r *Reporter) SetRemoteRead(v RemoteRead) { r.mutate(func(s *Status) { s.RemoteRead = v }) }

// SetRemoteSave updates the remoteSave axis.
func (r *Reporter) SetRemoteSave(v SaveState) { r.mutate(func(s *Status) { s.RemoteSave = v }) }

// ResetRemote returns the three remote axes to their disconnected defaults,
// used when a leader steps down and this engine has no remote-state of its
// own to surface (spec.md §4.7 "non-leaders surface the leader's remote-*
// state as their own").
func (r *Reporter) ResetRemote() {
	r.mutate(func(s *Status) {
		s.RemoteConnect = RemoteOffline
		s.RemoteRead = RemoteReadOffline
		s.RemoteSave = SaveReady
	})
}

func (r *Reporter) mutate(fn func(*Status)) {
	r.mu.Lock()
	before := r.cur
	fn(&r.cur)
	if r.cur != before {
		r.dirty = true
	}
	r.mu.Unlock()
}

// Flush delivers the current snapshot to every subscriber if the status has
// changed since the last Flush, and clears the dirty flag. Callers invoke it
// once per cooperative turn, mirroring the flush scheduler's coalescing of
// sync-status emissions with commit flushes (spec.md §5).
func (r *Reporter) Flush() {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	r.dirty = false
	snap := r.cur
	fns := make([]func(Status), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
