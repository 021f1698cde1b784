// Package memstore is docsync's in-memory LocalStore: a single-process
// reference implementation used by tests and by hosts that don't need
// durability. It keeps the same FIFO-queue and idempotent-ingest semantics
// as store/sqlstore, guarded by an in-process mutex as sqlstore is.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/untoldecay/docsync/errkind"
	"github.com/untoldecay/docsync/store"
)

// Store is an in-memory LocalStore. The zero value is not usable; use New.
type Store struct {
	mu     sync.Mutex // serializes every operation, modelling the per-store FIFO queue
	closed bool

	byRef      map[string]store.CommitRow
	order      []string // insertion order, for GetLocalCommitsEvent
	nextSyncID uint64
	lastCursor string
	hasCursor  bool

	subs   map[int]func(store.Event)
	nextID int
}

// New returns a ready, empty in-memory store. userID and clientID are
// accepted to match store.Factory's signature; memstore does not persist
// per-user data separately.
func New(_ context.Context, _, _ string, onEvent func(store.Event)) (store.LocalStore, error) {
	s := &Store{
		byRef: make(map[string]store.CommitRow),
		subs:  make(map[int]func(store.Event)),
	}
	if onEvent != nil {
		s.Subscribe(onEvent)
	}
	s.publish(store.Event{Kind: store.EventReady})
	return s, nil
}

func (s *Store) publish(e store.Event) {
	for _, fn := range s.subs {
		fn(e)
	}
}

type subscription struct {
	s  *Store
	id int
}

func (sub subscription) Close() {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	delete(sub.s.subs, sub.id)
}

// Subscribe registers fn for every event this store publishes.
func (s *Store) Subscribe(fn func(store.Event)) store.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return subscription{s: s, id: id}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return errkind.Wrap(errkind.Shutdown, fmt.Errorf("memstore: store is shut down"))
	}
	return nil
}

// AddCommits appends commits idempotently, optionally stamping remoteSyncID.
func (s *Store) AddCommits(_ context.Context, commits []store.CommitRow, remoteSyncID string) (store.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return store.Ack{}, err
	}

	ack := store.Ack{}
	var arrived []store.CommitRow
	for _, c := range commits {
		if existing, ok := s.byRef[c.Ref]; ok {
			if remoteSyncID != "" && existing.RemoteSyncID != remoteSyncID {
				existing.RemoteSyncID = remoteSyncID
				s.byRef[c.Ref] = existing
			}
			ack.Refs = append(ack.Refs, c.Ref)
			if existing.LocalSyncID > ack.SyncID {
				ack.SyncID = existing.LocalSyncID
			}
			continue
		}
		s.nextSyncID++
		c.LocalSyncID = s.nextSyncID
		if remoteSyncID != "" {
			c.RemoteSyncID = remoteSyncID
		}
		s.byRef[c.Ref] = c
		s.order = append(s.order, c.Ref)
		ack.Refs = append(ack.Refs, c.Ref)
		ack.SyncID = c.LocalSyncID
		arrived = append(arrived, c)
	}

	if remoteSyncID != "" {
		s.lastCursor = remoteSyncID
		s.hasCursor = true
	}

	if len(arrived) > 0 {
		s.publish(store.Event{Kind: store.EventCommits, Commits: arrived, SyncID: s.nextSyncID})
	}
	s.publish(store.Event{Kind: store.EventAck, Refs: ack.Refs, SyncID: ack.SyncID})
	return ack, nil
}

// AcknowledgeCommits marks existing commits remote-synced in place.
func (s *Store) AcknowledgeCommits(_ context.Context, refs []string, remoteSyncID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, ref := range refs {
		c, ok := s.byRef[ref]
		if !ok {
			return fmt.Errorf("memstore: acknowledge unknown ref %s", ref)
		}
		c.RemoteSyncID = remoteSyncID
		s.byRef[ref] = c
	}
	s.lastCursor = remoteSyncID
	s.hasCursor = true
	s.publish(store.Event{Kind: store.EventAck, Refs: refs})
	return nil
}

// GetLocalCommitsEvent returns commits with LocalSyncID > since, in order.
func (s *Store) GetLocalCommitsEvent(_ context.Context, since uint64) ([]store.CommitRow, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}
	var out []store.CommitRow
	syncID := since
	for _, ref := range s.order {
		c := s.byRef[ref]
		if c.LocalSyncID > since {
			out = append(out, c)
			if c.LocalSyncID > syncID {
				syncID = c.LocalSyncID
			}
		}
	}
	return out, syncID, nil
}

// GetRemoteSyncInfo reports the last acknowledged cursor.
func (s *Store) GetRemoteSyncInfo(_ context.Context) (store.RemoteSyncInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return store.RemoteSyncInfo{}, err
	}
	return store.RemoteSyncInfo{LastSyncCursor: s.lastCursor, HasLastSyncCursor: s.hasCursor}, nil
}

const remoteBatchSize = 5

type batchIterator struct {
	s      *Store
	pos    int
	cached []store.CommitRow
	primed bool
}

func (b *batchIterator) Next(_ context.Context) ([]store.CommitRow, bool, error) {
	b.s.mu.Lock()
	if !b.primed {
		for _, ref := range b.s.order {
			c := b.s.byRef[ref]
			if c.RemoteSyncID == "" {
				b.cached = append(b.cached, c)
			}
		}
		b.primed = true
	}
	b.s.mu.Unlock()

	if b.pos >= len(b.cached) {
		return nil, false, nil
	}
	end := b.pos + remoteBatchSize
	if end > len(b.cached) {
		end = len(b.cached)
	}
	batch := b.cached[b.pos:end]
	b.pos = end
	return batch, true, nil
}

// CommitsForRemote returns an iterator over not-yet-remote-synced commits
// in fixed-size batches (reference size 5, per spec.md §4.2).
func (s *Store) CommitsForRemote(_ context.Context) store.RemoteBatchIterator {
	return &batchIterator{s: s}
}

// ResetDocRemoteSyncData clears every commit's RemoteSyncID and the stored
// cursor, forcing a fresh re-push on next leader election (spec.md §4.8).
func (s *Store) ResetDocRemoteSyncData(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for ref, c := range s.byRef {
		c.RemoteSyncID = ""
		s.byRef[ref] = c
	}
	s.lastCursor = ""
	s.hasCursor = false
	return nil
}

// Shutdown marks the store closed; subsequent operations fail.
func (s *Store) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]func(store.Event))
	return nil
}

// DeleteDocDatabase closes s and discards its in-memory state (spec.md
// §4.8's deleteDocDatabase). There is no file to remove; the in-memory
// analog of "removed from disk" is that every commit, head and cursor s
// held is gone once this returns.
func DeleteDocDatabase(s *Store) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.byRef = make(map[string]store.CommitRow)
	s.order = nil
	s.nextSyncID = 0
	s.lastCursor = ""
	s.hasCursor = false
	s.subs = make(map[int]func(store.Event))
	return nil
}
