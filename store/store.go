// Package store declares the LocalStore contract (spec.md §4.2): the
// append-only commit log, the heads table, remote-sync bookkeeping, and the
// event stream that tells co-resident engines about newly visible commits.
// Concrete backends live in sibling packages (memstore, sqlstore); this
// package only fixes the shape every backend must honor, including the
// per-store FIFO serialization guarantee from spec.md §5.
package store

import "context"

// Ack is returned by AddCommits: the refs that were accepted (including
// ones silently de-duplicated) and the local syncId of the highest commit
// involved.
type Ack struct {
	Refs   []string
	SyncID uint64
}

// RemoteSyncInfo identifies this store and records the last cursor
// acknowledged by the remote (spec.md §3, "Local store state").
type RemoteSyncInfo struct {
	LocalStoreID     string
	LastSyncCursor   string
	HasLastSyncCursor bool
}

// EventKind discriminates the onEvent stream (spec.md §6).
type EventKind int

const (
	EventCommits EventKind = iota
	EventAck
	EventReady
	EventRemoteState
	EventError
)

// RemoteState mirrors the sub-states proxied from the remote transport.
type RemoteState struct {
	Connect string // offline | connecting | online | error
	Read    string // offline | loading | ready | error
	Save    string // ready | pending | saving | error
}

// Event is the single sum type a LocalStore publishes to subscribers.
type Event struct {
	Kind EventKind

	// EventCommits
	Commits []CommitRow
	SyncID  uint64

	// EventAck
	Refs []string

	// EventRemoteState
	State RemoteState

	// EventError
	Message   string
	Fatal     bool
	Reconnect bool
}

// CommitRow is the row shape persisted by a LocalStore: a commit plus the
// bookkeeping columns from spec.md §6's reference table layout.
type CommitRow struct {
	Ref          string
	BaseRef      string
	MergeRef     string
	MergeBaseRef string
	Delta        []byte
	EditMetadata []byte
	UserID       string
	ClientID     string
	RemoteSyncID string
	LocalSyncID  uint64
}

// Subscription is returned by Subscribe; Close releases it. Each handle has
// exclusive ownership of its own receive channel (spec.md §9, "Dynamic
// callback callers").
type Subscription interface {
	Close()
}

// LocalStore is the per-machine/origin persistent sink for commits, shared
// by every engine co-resident in that origin. All operations are serialized
// through a single FIFO queue per store (spec.md §5); implementations must
// not allow two calls to interleave their effects.
type LocalStore interface {
	// AddCommits idempotently appends commits, assigning them strictly
	// increasing local syncIds. If remoteSyncID is non-empty, the commits
	// are additionally marked remote-synced and lastSyncCursor advances.
	AddCommits(ctx context.Context, commits []CommitRow, remoteSyncID string) (Ack, error)

	// AcknowledgeCommits marks pre-existing commits as remote-synced
	// without re-inserting them.
	AcknowledgeCommits(ctx context.Context, refs []string, remoteSyncID string) error

	// GetLocalCommitsEvent returns every commit with LocalSyncID >
	// sinceSyncCursor, in insertion order, plus the syncId of the last one.
	GetLocalCommitsEvent(ctx context.Context, sinceSyncCursor uint64) ([]CommitRow, uint64, error)

	// GetRemoteSyncInfo reports this store's stable identity and last
	// acknowledged remote cursor.
	GetRemoteSyncInfo(ctx context.Context) (RemoteSyncInfo, error)

	// CommitsForRemote returns a finite, lazily-evaluated sequence of
	// commit batches not yet remote-synced. Each call to Next returns the
	// next batch (fixed size) and whether any batch was returned at all.
	CommitsForRemote(ctx context.Context) RemoteBatchIterator

	// Subscribe registers fn to be called for every Event this store
	// publishes (commit arrivals from any client, acks, ready, remote
	// state, errors). fn must not block for long; slow subscribers are the
	// caller's problem, not the store's (spec.md §4.3 applies to the
	// broadcast layer a store is typically built on).
	Subscribe(fn func(Event)) Subscription

	// ResetDocRemoteSyncData clears remote-sync bookkeeping on every commit
	// and the stored remotes record (spec.md §4.8).
	ResetDocRemoteSyncData(ctx context.Context) error

	// Shutdown releases the store's resources. After Shutdown every other
	// method must fail with an error classified as "shutdown".
	Shutdown(ctx context.Context) error
}

// RemoteBatchIterator yields fixed-size batches of not-yet-remote-synced
// commits, backpressured: the caller is expected to await each batch's ack
// before asking for the next (spec.md §5).
type RemoteBatchIterator interface {
	Next(ctx context.Context) ([]CommitRow, bool, error)
}

// Factory builds a LocalStore for (userID, clientID), delivering events to
// onEvent. Concrete factories (memstore.New, sqlstore.Open) implement this
// signature; spec.md §6 calls it getLocalStore.
type Factory func(ctx context.Context, userID, clientID string, onEvent func(Event)) (LocalStore, error)
