// Package remote declares the Remote transport contract (spec.md §4.4):
// the optional upstream sink for commits, reached through exactly one
// leader engine per local store. The transport itself — websocket, gRPC,
// whatever a host wires up — is an external collaborator; this package
// only fixes events, the reconnect-policy calculator, and error
// classification.
package remote

import (
	"context"
	"time"

	"github.com/untoldecay/docsync/store"
)

// EventKind discriminates events a RemoteHandle delivers to onEvent.
type EventKind int

const (
	EventReady EventKind = iota
	EventCommits
	EventAck
	EventRemoteState
	EventError
)

// Event is the single sum type a Remote publishes.
type Event struct {
	Kind EventKind

	// EventCommits: a batch pushed by the remote, carrying the cursor the
	// remote wants these commits acknowledged with.
	Commits      []store.CommitRow
	RemoteSyncID string

	// EventAck: refs the remote accepted plus its new cursor.
	Refs   []string
	Cursor string

	// EventRemoteState
	State store.RemoteState

	// EventError
	Message string
	ErrKind ErrorKind
}

// ErrorKind classifies a remote error for the reconnect policy (spec.md §7).
type ErrorKind int

const (
	ErrorNetwork ErrorKind = iota
	ErrorProtocol
	ErrorFatal
)

// Reconnect reports whether the transport should attempt to reconnect after
// this error; only ErrorFatal stops reconnection.
func (k ErrorKind) Reconnect() bool {
	return k != ErrorFatal
}

// RemoteHandle is one live (or reconnecting) connection to the remote.
type RemoteHandle interface {
	// SendCommits streams one outbound batch and awaits its ack.
	SendCommits(ctx context.Context, commits []store.CommitRow) (refs []string, cursor string, err error)

	// Close tears down the connection and cancels any pending reconnect.
	Close() error
}

// Factory opens a connection to the remote for userID, seeded with the
// store's last known sync info, delivering events to onEvent. spec.md §6
// calls this getRemote.
type Factory func(ctx context.Context, userID string, info store.RemoteSyncInfo, onEvent func(Event)) (RemoteHandle, error)

// ReconnectPolicy is the exponential-backoff calculator from spec.md §4.4.
type ReconnectPolicy struct {
	InitialDelayMs             int
	ReconnectBackoffMultiplier float64
	MaxReconnectDelayMs        int
}

// Delay returns the backoff delay before reconnect attempt n (0-based: the
// first retry after a disconnect is Delay(0)).
func (p ReconnectPolicy) Delay(n int) time.Duration {
	if p.InitialDelayMs <= 0 {
		return 0
	}
	delay := float64(p.InitialDelayMs)
	mult := p.ReconnectBackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	for i := 0; i < n; i++ {
		delay *= mult
	}
	if p.MaxReconnectDelayMs > 0 && delay > float64(p.MaxReconnectDelayMs) {
		delay = float64(p.MaxReconnectDelayMs)
	}
	return time.Duration(delay) * time.Millisecond
}
