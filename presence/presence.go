// Package presence is the docsync presence multiplexer (spec.md system
// overview item 9): it tracks other clients' transient cursor/selection
// annotations and republishes them, but never persists them — the commit
// DAG never sees a presence record. It is an in-memory registry keyed by
// identity, pruned on an explicit remove rather than a TTL (spec.md
// defines no presence expiry), keyed on docsync's (userId, clientId) pair.
package presence

import (
	"sync"

	"github.com/untoldecay/docsync/broadcast"
)

// Record is the transient per-client annotation spec.md §3 defines:
// {userId, clientId, ref?, presence?}. It is never written to the local
// store.
type Record struct {
	UserID   string
	ClientID string
	Ref      string
	Present  bool
	Presence any
}

// Multiplexer tracks the latest Record seen for every other client sharing
// a local store, fed by the broadcast channel only; records are not sent to
// or received from the remote transport.
type Multiplexer struct {
	selfClientID string
	ch           broadcast.Channel

	mu      sync.Mutex
	clients map[string]Record
	subs    map[int]func(map[string]Record)
	nextID  int
	sub     broadcast.Subscription
}

// New starts a Multiplexer listening on ch for KindPresence messages from
// every client other than selfClientID.
func New(selfClientID string, ch broadcast.Channel) *Multiplexer {
	m := &Multiplexer{
		selfClientID: selfClientID,
		ch:           ch,
		clients:      make(map[string]Record),
		subs:         make(map[int]func(map[string]Record)),
	}
	m.sub = ch.Subscribe(m.onMessage)
	return m
}

func (m *Multiplexer) onMessage(msg broadcast.Message) {
	if msg.Kind != broadcast.KindPresence || msg.FromClientID == m.selfClientID {
		return
	}
	rec, ok := msg.Presence.(Record)
	if !ok {
		return
	}
	m.apply(rec)
}

func (m *Multiplexer) apply(rec Record) {
	m.mu.Lock()
	if rec.Present {
		m.clients[rec.ClientID] = rec
	} else {
		delete(m.clients, rec.ClientID)
	}
	snap := m.snapshotLocked()
	fns := make([]func(map[string]Record), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Publish broadcasts this client's own presence to every other subscriber
// of the channel. It never creates a commit (spec.md §4.5 updatePresence).
func (m *Multiplexer) Publish(userID, ref string, presence any) {
	m.ch.Publish(broadcast.Message{
		Kind:         broadcast.KindPresence,
		FromClientID: m.selfClientID,
		Presence: Record{
			UserID:   userID,
			ClientID: m.selfClientID,
			Ref:      ref,
			Present:  true,
			Presence: presence,
		},
	})
}

// Retract announces this client is no longer present (e.g. on shutdown).
func (m *Multiplexer) Retract() {
	m.ch.Publish(broadcast.Message{
		Kind:         broadcast.KindPresence,
		FromClientID: m.selfClientID,
		Presence:     Record{ClientID: m.selfClientID, Present: false},
	})
}

// Subscribe fires immediately with the current client map, then on every
// change, mirroring engine.subscribeClients (spec.md §4.5).
func (m *Multiplexer) Subscribe(fn func(map[string]Record)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	snap := m.snapshotLocked()
	m.mu.Unlock()

	fn(snap)
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Multiplexer) snapshotLocked() map[string]Record {
	out := make(map[string]Record, len(m.clients))
	for k, v := range m.clients {
		out[k] = v
	}
	return out
}

// Close stops listening to the broadcast channel.
func (m *Multiplexer) Close() {
	m.sub.Close()
}
