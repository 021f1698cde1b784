// Package engine is the per-client state machine docsync builds around: it
// owns the working document, the pending buffer of not-yet-flushed commits,
// the graph index, and the merge loop that reduces multiple heads to one
// (spec.md §4.5). It is the hard core the rest of the module's packages
// exist to support.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/untoldecay/docsync/broadcast"
	"github.com/untoldecay/docsync/broadcast/fsbroadcast"
	"github.com/untoldecay/docsync/commit"
	"github.com/untoldecay/docsync/differ"
	"github.com/untoldecay/docsync/errkind"
	"github.com/untoldecay/docsync/leader"
	"github.com/untoldecay/docsync/presence"
	"github.com/untoldecay/docsync/remote"
	"github.com/untoldecay/docsync/store"
	"github.com/untoldecay/docsync/syncstatus"
)

// ErrShutdown is returned by UpdateDoc and GetCommitDoc once the engine has
// been shut down (spec.md §5 "Cancellation"). UpdatePresence, IsRemoteLeader
// and the Subscribe* methods have no error result and keep working after
// shutdown.
var ErrShutdown = errkind.Wrap(errkind.Shutdown, errors.New("engine: shut down"))

// Config configures one engine instance. Store, Differ and Broadcast are
// required; Remote, Leader and the timing knobs are optional.
type Config struct {
	UserID   string
	ClientID string

	Store     store.LocalStore
	Differ    differ.Differ
	Broadcast broadcast.Channel

	// RemoteFactory opens the upstream transport. Nil means this document
	// has no remote — every engine stays localRead/localSave only.
	RemoteFactory remote.Factory
	Reconnect     remote.ReconnectPolicy

	// LockPath, if set, is passed to leader.Election for cross-process
	// tie-break (spec.md §4.7).
	LockPath       string
	ElectionConfig leader.Config

	// BufferDelay is the flush scheduler's bufferMs (spec.md §5); zero
	// coalesces edits produced within the current goroutine's synchronous
	// call stack by deferring the flush to the next scheduler tick.
	BufferDelay time.Duration

	// FSWatchPath, if set, names a store/sqlstore database file whose
	// directory gets watched with broadcast/fsbroadcast so co-resident OS
	// processes (not just goroutines sharing Broadcast) see each other's
	// commits. Leave empty for in-memory stores or single-process hosts.
	FSWatchPath string
}

// Engine is a single client's live view of one document.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	closed   bool
	idx      *commit.Index
	head     string
	savedDoc []byte
	pending  []commit.Commit
	flushSet bool
	docCache map[string][]byte
	errEdges map[string]bool
	saveErr  error

	docSubs    map[int]func([]byte)
	nextDocSub int
	lastSyncID uint64

	status   *syncstatus.Reporter
	presence *presence.Multiplexer
	election *leader.Election
	isLeader bool

	storeSub store.Subscription
	bcastSub broadcast.Subscription
	fsWatch  *fsbroadcast.Watcher

	remote           remote.RemoteHandle
	remoteCtx        context.Context
	remoteCancel     context.CancelFunc
	reconnectAttempt int
}

// New constructs an engine, replays the local store's commits, runs the
// merge loop once silently, and transitions localRead to ready before
// returning (spec.md §4.5 "Initial load").
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Differ == nil || cfg.Broadcast == nil {
		return nil, fmt.Errorf("engine: Store, Differ and Broadcast are required")
	}
	e := &Engine{
		cfg:      cfg,
		idx:      commit.NewIndex(),
		docCache: make(map[string][]byte),
		errEdges: make(map[string]bool),
		docSubs:  make(map[int]func([]byte)),
		status:   syncstatus.New(),
		presence: presence.New(cfg.ClientID, cfg.Broadcast),
	}

	if err := e.loadInitial(ctx); err != nil {
		return nil, err
	}

	e.storeSub = cfg.Store.Subscribe(e.onStoreEvent)
	e.bcastSub = cfg.Broadcast.Subscribe(e.onBroadcast)

	if cfg.RemoteFactory != nil || cfg.LockPath != "" {
		e.election = leader.New(cfg.ClientID, cfg.Broadcast, cfg.ElectionConfig, cfg.LockPath, e.onLeadershipChange)
	}

	if cfg.FSWatchPath != "" {
		fw, err := fsbroadcast.Watch(cfg.FSWatchPath, cfg.Broadcast)
		if err != nil {
			e.storeSub.Close()
			e.bcastSub.Close()
			return nil, fmt.Errorf("engine: watch %s: %w", cfg.FSWatchPath, err)
		}
		e.fsWatch = fw
	}

	return e, nil
}

func (e *Engine) loadInitial(ctx context.Context) error {
	rows, lastID, err := e.cfg.Store.GetLocalCommitsEvent(ctx, 0)
	if err != nil {
		return fmt.Errorf("engine: initial replay: %w", err)
	}
	for _, row := range rows {
		c := rowToCommit(row)
		if err := e.idx.Insert(c); err != nil {
			return fmt.Errorf("engine: initial replay insert %s: %w", c.Ref, err)
		}
	}
	e.lastSyncID = lastID
	e.runMergeLoop(true)
	e.status.SetLocalRead(syncstatus.LocalReadReady)
	e.status.Flush()
	return nil
}

func rowToCommit(row store.CommitRow) commit.Commit {
	return commit.Commit{
		Ref:          row.Ref,
		BaseRef:      row.BaseRef,
		MergeRef:     row.MergeRef,
		MergeBaseRef: row.MergeBaseRef,
		Delta:        row.Delta,
		EditMetadata: row.EditMetadata,
		UserID:       row.UserID,
		ClientID:     row.ClientID,
		RemoteSyncID: row.RemoteSyncID,
	}
}

func commitToRow(c commit.Commit, localSyncID uint64) store.CommitRow {
	return store.CommitRow{
		Ref:          c.Ref,
		BaseRef:      c.BaseRef,
		MergeRef:     c.MergeRef,
		MergeBaseRef: c.MergeBaseRef,
		Delta:        c.Delta,
		EditMetadata: c.EditMetadata,
		UserID:       c.UserID,
		ClientID:     c.ClientID,
		RemoteSyncID: c.RemoteSyncID,
		LocalSyncID:  localSyncID,
	}
}

// UpdateDoc applies a local edit (spec.md §4.5 updateDoc). It is
// synchronous: doc subscribers observe newDoc before UpdateDoc returns, and
// the flush to the local store is scheduled for the next cooperative turn.
func (e *Engine) UpdateDoc(newDoc, editMetadata []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrShutdown
	}

	delta, changed, err := e.cfg.Differ.Diff(e.savedDoc, newDoc)
	if err != nil {
		e.mu.Unlock()
		return errkind.Wrap(errkind.Merge, fmt.Errorf("engine: diff: %w", err))
	}
	if !changed {
		e.mu.Unlock()
		return nil
	}

	baseRef := e.head
	ref, err := e.cfg.Differ.ComputeRef(baseRef, "", "", delta, editMetadata)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: compute ref: %w", err)
	}
	c := commit.Commit{
		Ref:          ref,
		BaseRef:      baseRef,
		Delta:        delta,
		EditMetadata: editMetadata,
		UserID:       e.cfg.UserID,
		ClientID:     e.cfg.ClientID,
	}
	if err := e.idx.Insert(c); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: insert local commit: %w", err)
	}
	e.pending = append(e.pending, c)
	e.head = ref
	e.savedDoc = newDoc
	e.docCache[ref] = newDoc
	subs := e.snapshotDocSubsLocked()
	e.status.SetLocalSave(syncstatus.SavePending)
	e.scheduleFlushLocked()
	e.mu.Unlock()

	for _, fn := range subs {
		fn(newDoc)
	}
	e.status.Flush()
	return nil
}

// UpdatePresence broadcasts presence without creating a commit (spec.md
// §4.5 updatePresence).
func (e *Engine) UpdatePresence(p any) {
	e.mu.Lock()
	head := e.head
	e.mu.Unlock()
	e.presence.Publish(e.cfg.UserID, head, p)
}

// SubscribeDoc fires immediately with the current doc, then on every
// change, returning an unsubscribe function.
func (e *Engine) SubscribeDoc(fn func(doc []byte)) func() {
	e.mu.Lock()
	id := e.nextDocSub
	e.nextDocSub++
	e.docSubs[id] = fn
	doc := e.savedDoc
	e.mu.Unlock()

	fn(doc)
	return func() {
		e.mu.Lock()
		delete(e.docSubs, id)
		e.mu.Unlock()
	}
}

// SubscribeSyncStatus delegates to the sync-status reporter.
func (e *Engine) SubscribeSyncStatus(fn func(syncstatus.Status)) func() {
	return e.status.Subscribe(fn)
}

// SubscribeClients delegates to the presence multiplexer.
func (e *Engine) SubscribeClients(fn func(map[string]presence.Record)) func() {
	return e.presence.Subscribe(fn)
}

// IsRemoteLeader reports whether this engine currently owns the remote
// connection (spec.md §4.5 isRemoteLeader).
func (e *Engine) IsRemoteLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// GetCommitDoc recomputes the document at ref on demand, memoizing as it
// walks from the nearest cached ancestor (spec.md §4.5 getCommitDoc).
func (e *Engine) GetCommitDoc(ref string) ([]byte, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil, ErrShutdown
	}
	doc, err := e.docOfLocked(ref)
	if err != nil {
		return nil, nil, err
	}
	if ref == "" {
		return doc, nil, nil
	}
	c, _ := e.idx.Get(ref)
	return doc, c.EditMetadata, nil
}

// docOfLocked recomputes (and memoizes) the document at ref. Must be called
// with e.mu held.
func (e *Engine) docOfLocked(ref string) ([]byte, error) {
	if ref == "" {
		return nil, nil
	}
	if doc, ok := e.docCache[ref]; ok {
		return doc, nil
	}
	c, ok := e.idx.Get(ref)
	if !ok {
		return nil, fmt.Errorf("engine: unknown commit %s", ref)
	}
	base, err := e.docOfLocked(c.BaseRef)
	if err != nil {
		return nil, err
	}
	doc, err := e.cfg.Differ.Patch(base, c.Delta)
	if err != nil {
		return nil, fmt.Errorf("engine: patch %s: %w", ref, err)
	}
	e.docCache[ref] = doc
	return doc, nil
}

// scheduleFlushLocked must be called with e.mu held.
func (e *Engine) scheduleFlushLocked() {
	if e.flushSet {
		return
	}
	e.flushSet = true
	if e.cfg.BufferDelay <= 0 {
		go e.flush()
		return
	}
	time.AfterFunc(e.cfg.BufferDelay, e.flush)
}

// flush drains the pending buffer into the local store (spec.md §5's flush
// scheduler).
func (e *Engine) flush() {
	e.mu.Lock()
	if e.closed || len(e.pending) == 0 {
		e.flushSet = false
		e.mu.Unlock()
		return
	}
	batch := e.pending
	e.pending = nil
	e.flushSet = false
	e.status.SetLocalSave(syncstatus.SaveSaving)
	e.mu.Unlock()
	e.status.Flush()

	rows := make([]store.CommitRow, len(batch))
	for i, c := range batch {
		rows[i] = commitToRow(c, 0)
	}
	ack, err := e.cfg.Store.AddCommits(context.Background(), rows, "")
	if err != nil {
		e.mu.Lock()
		e.saveErr = errkind.Wrap(errkind.Storage, err)
		e.pending = append(batch, e.pending...)
		e.status.SetLocalSave(syncstatus.SaveError)
		e.mu.Unlock()
		e.status.Flush()
		return
	}

	e.mu.Lock()
	if ack.SyncID > e.lastSyncID {
		e.lastSyncID = ack.SyncID
	}
	stillEmpty := len(e.pending) == 0
	if stillEmpty {
		e.status.SetLocalSave(syncstatus.SaveReady)
		e.saveErr = nil
	}
	e.mu.Unlock()
	e.status.Flush()
	e.kickOutbound()
}

// LastSaveError reports the most recent classified local-save failure, or
// nil once a flush has succeeded since (spec.md §7's "saveError").
func (e *Engine) LastSaveError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveErr
}

// onStoreEvent handles the local store's onEvent stream (spec.md §6).
func (e *Engine) onStoreEvent(ev store.Event) {
	switch ev.Kind {
	case store.EventCommits:
		e.mu.Lock()
		if ev.SyncID > e.lastSyncID {
			e.lastSyncID = ev.SyncID
		}
		e.mu.Unlock()
		e.ingestRemoteCommits(ev.Commits)
	case store.EventError:
		e.mu.Lock()
		e.status.SetLocalSave(syncstatus.SaveError)
		e.mu.Unlock()
		e.status.Flush()
	}
}

// onBroadcast handles commit-arrived notifications and proxied remote-state
// from peer engines sharing this local store (spec.md §4.3, §4.7).
func (e *Engine) onBroadcast(msg broadcast.Message) {
	if msg.FromClientID == e.cfg.ClientID {
		return
	}
	switch msg.Kind {
	case broadcast.KindCommitArrived:
		e.onBroadcastCommitArrived()
	case broadcast.KindRemoteState:
		e.onBroadcastRemoteState(msg)
	}
}

func (e *Engine) onBroadcastCommitArrived() {
	ctx := context.Background()
	e.mu.Lock()
	since := e.lastSyncID
	e.mu.Unlock()
	rows, lastID, err := e.cfg.Store.GetLocalCommitsEvent(ctx, since)
	if err != nil {
		return
	}
	e.mu.Lock()
	if lastID > e.lastSyncID {
		e.lastSyncID = lastID
	}
	e.mu.Unlock()
	e.ingestRemoteCommits(rows)
}

// onBroadcastRemoteState surfaces the leader's remote-* axes as this
// engine's own (spec.md §4.7: "non-leaders surface the leader's remote-*
// state as their own"). A leader ignores these: its own remote axes are
// authoritative via connectRemote/onRemoteEvent, not proxied.
func (e *Engine) onBroadcastRemoteState(msg broadcast.Message) {
	e.mu.Lock()
	isLeader := e.isLeader
	e.mu.Unlock()
	if isLeader {
		return
	}
	state, ok := msg.RemoteState.(store.RemoteState)
	if !ok {
		return
	}
	e.status.SetRemoteConnect(remoteConnectFromString(state.Connect))
	e.status.SetRemoteRead(remoteReadFromString(state.Read))
	e.status.SetRemoteSave(saveStateFromString(state.Save))
	e.status.Flush()
}

func remoteConnectFromString(s string) syncstatus.RemoteConnect {
	switch s {
	case "connecting":
		return syncstatus.RemoteConnecting
	case "online":
		return syncstatus.RemoteOnline
	case "error":
		return syncstatus.RemoteConnectError
	default:
		return syncstatus.RemoteOffline
	}
}

func remoteReadFromString(s string) syncstatus.RemoteRead {
	switch s {
	case "loading":
		return syncstatus.RemoteReadLoading
	case "ready":
		return syncstatus.RemoteReadReady
	case "error":
		return syncstatus.RemoteReadError
	default:
		return syncstatus.RemoteReadOffline
	}
}

func saveStateFromString(s string) syncstatus.SaveState {
	switch s {
	case "pending":
		return syncstatus.SavePending
	case "saving":
		return syncstatus.SaveSaving
	case "error":
		return syncstatus.SaveError
	default:
		return syncstatus.SaveReady
	}
}

func (e *Engine) ingestRemoteCommits(rows []store.CommitRow) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	changed := false
	for _, row := range rows {
		c := rowToCommit(row)
		if e.idx.Has(c.Ref) {
			continue
		}
		if err := e.idx.Insert(c); err != nil {
			continue // parent not yet visible; a later event will retry via subsequent broadcasts
		}
		changed = true
	}
	if !changed {
		e.mu.Unlock()
		return
	}
	e.runMergeLoop(false)
	doc := e.savedDoc
	subs := e.snapshotDocSubsLocked()
	e.mu.Unlock()

	for _, fn := range subs {
		fn(doc)
	}
}

func (e *Engine) snapshotDocSubsLocked() []func([]byte) {
	out := make([]func([]byte), 0, len(e.docSubs))
	for _, fn := range e.docSubs {
		out = append(out, fn)
	}
	return out
}

// runMergeLoop reduces the head set to one, per spec.md §4.5 steps 1-4.
// Must be called with e.mu held. When silent is true (initial load) it does
// not matter to callers since no subscriber is wired yet.
func (e *Engine) runMergeLoop(silent bool) {
	_ = silent
	for {
		heads := e.idx.Heads()
		if len(heads) <= 1 {
			if len(heads) == 1 {
				e.head = heads[0]
				doc, err := e.docOfLocked(e.head)
				if err == nil {
					e.savedDoc = doc
				}
			}
			return
		}

		l, r := heads[0], heads[1]
		edgeKey := l + "|" + r
		if e.errEdges[edgeKey] {
			// Already failed once; do not retry with the same inputs
			// (spec.md §4.5). Try the next pair instead so other heads can
			// still converge.
			if len(heads) > 2 {
				l, r = heads[0], heads[2]
				edgeKey = l + "|" + r
				if e.errEdges[edgeKey] {
					return
				}
			} else {
				return
			}
		}

		base, hasBase := e.idx.LowestCommonAncestor(l, r)
		if !hasBase {
			return
		}
		baseDoc, errB := e.docOfLocked(base)
		leftDoc, errL := e.docOfLocked(l)
		rightDoc, errR := e.docOfLocked(r)
		if errB != nil || errL != nil || errR != nil {
			e.errEdges[edgeKey] = true
			continue
		}

		result, err := e.cfg.Differ.Merge(baseDoc, leftDoc, rightDoc)
		if err != nil {
			e.errEdges[edgeKey] = true
			e.saveErr = errkind.Wrap(errkind.Merge, err)
			continue
		}
		if result.Temp {
			// Ephemeral merge result: not committed, heads stay as-is.
			return
		}

		delta, _, err := e.cfg.Differ.Diff(leftDoc, result.Doc)
		if err != nil {
			e.errEdges[edgeKey] = true
			continue
		}
		ref, err := e.cfg.Differ.ComputeRef(l, r, base, delta, result.Metadata)
		if err != nil {
			e.errEdges[edgeKey] = true
			continue
		}
		mc := commit.Commit{
			Ref:          ref,
			BaseRef:      l,
			MergeRef:     r,
			MergeBaseRef: base,
			Delta:        delta,
			EditMetadata: result.Metadata,
			UserID:       e.cfg.UserID,
			ClientID:     e.cfg.ClientID,
		}
		if err := e.idx.Insert(mc); err != nil {
			e.errEdges[edgeKey] = true
			continue
		}
		e.docCache[ref] = result.Doc
		e.pending = append(e.pending, mc)
		e.scheduleFlushLocked()
	}
}

func (e *Engine) onLeadershipChange(isLeader bool) {
	e.mu.Lock()
	e.isLeader = isLeader
	e.mu.Unlock()

	if isLeader {
		e.connectRemote()
	} else {
		e.disconnectRemote()
		e.status.ResetRemote()
		e.status.Flush()
	}
}

func (e *Engine) connectRemote() {
	if e.cfg.RemoteFactory == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.remoteCtx = ctx
	e.remoteCancel = cancel
	e.mu.Unlock()

	e.status.SetRemoteConnect(syncstatus.RemoteConnecting)
	e.status.Flush()

	info, err := e.cfg.Store.GetRemoteSyncInfo(ctx)
	if err != nil {
		e.status.SetRemoteConnect(syncstatus.RemoteConnectError)
		e.status.Flush()
		return
	}

	handle, err := e.cfg.RemoteFactory(ctx, e.cfg.UserID, info, e.onRemoteEvent)
	if err != nil {
		e.status.SetRemoteConnect(syncstatus.RemoteConnectError)
		e.status.Flush()
		return
	}

	e.mu.Lock()
	e.remote = handle
	e.reconnectAttempt = 0
	e.mu.Unlock()
	e.status.SetRemoteConnect(syncstatus.RemoteOnline)
	e.status.SetRemoteRead(syncstatus.RemoteReadLoading)
	e.status.Flush()

	go e.pumpOutbound(ctx)
}

// scheduleReconnect backs off per cfg.Reconnect and retries connectRemote,
// provided this engine is still remote leader (spec.md §4.4).
func (e *Engine) scheduleReconnect() {
	e.mu.Lock()
	if !e.isLeader {
		e.mu.Unlock()
		return
	}
	attempt := e.reconnectAttempt
	e.reconnectAttempt++
	e.mu.Unlock()

	e.status.SetRemoteConnect(syncstatus.RemoteConnecting)
	e.status.Flush()
	time.AfterFunc(e.cfg.Reconnect.Delay(attempt), func() {
		e.mu.Lock()
		stillLeader := e.isLeader
		e.mu.Unlock()
		if stillLeader {
			e.disconnectRemote()
			e.connectRemote()
		}
	})
}

func (e *Engine) disconnectRemote() {
	e.mu.Lock()
	h := e.remote
	cancel := e.remoteCancel
	e.remote = nil
	e.remoteCtx = nil
	e.remoteCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if h != nil {
		_ = h.Close()
	}
}

func (e *Engine) onRemoteEvent(ev remote.Event) {
	switch ev.Kind {
	case remote.EventReady:
		e.status.SetRemoteRead(syncstatus.RemoteReadReady)
		e.status.Flush()
	case remote.EventCommits:
		ack, err := e.cfg.Store.AddCommits(context.Background(), ev.Commits, ev.RemoteSyncID)
		if err != nil {
			return
		}
		e.mu.Lock()
		if ack.SyncID > e.lastSyncID {
			e.lastSyncID = ack.SyncID
		}
		e.mu.Unlock()
		e.cfg.Broadcast.Publish(broadcast.Message{Kind: broadcast.KindCommitArrived, FromClientID: e.cfg.ClientID})
	case remote.EventAck:
		_ = e.cfg.Store.AcknowledgeCommits(context.Background(), ev.Refs, ev.Cursor)
	case remote.EventRemoteState:
		e.cfg.Broadcast.Publish(broadcast.Message{Kind: broadcast.KindRemoteState, RemoteState: ev.State, FromClientID: e.cfg.ClientID})
	case remote.EventError:
		if ev.ErrKind == remote.ErrorFatal {
			e.status.SetRemoteConnect(syncstatus.RemoteConnectError)
			e.status.Flush()
			return
		}
		e.status.Flush()
		if ev.ErrKind.Reconnect() {
			e.scheduleReconnect()
		}
	}
}

// kickOutbound re-runs pumpOutbound for commits that landed in the local
// store after the remote connection's initial drain (new edits, incoming
// merges) — pumpOutbound's iterator is a one-shot drain, not a standing
// subscription, so newly flushed commits need a fresh pump to reach the
// remote.
func (e *Engine) kickOutbound() {
	e.mu.Lock()
	handle := e.remote
	ctx := e.remoteCtx
	e.mu.Unlock()
	if handle == nil {
		return
	}
	go e.pumpOutbound(ctx)
}

// pumpOutbound streams unsynced commits to the remote in fixed-size
// batches, awaiting each ack before the next (spec.md §5 Backpressure).
func (e *Engine) pumpOutbound(ctx context.Context) {
	iter := e.cfg.Store.CommitsForRemote(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rows, more, err := iter.Next(ctx)
		if err != nil {
			return
		}
		if len(rows) > 0 {
			e.mu.Lock()
			handle := e.remote
			e.mu.Unlock()
			if handle == nil {
				return
			}
			e.status.SetRemoteSave(syncstatus.SaveSaving)
			e.status.Flush()
			refs, cursor, err := handle.SendCommits(ctx, rows)
			if err != nil {
				e.status.SetRemoteSave(syncstatus.SaveError)
				e.status.Flush()
				e.scheduleReconnect()
				return
			}
			_ = e.cfg.Store.AcknowledgeCommits(ctx, refs, cursor)
			e.status.SetRemoteSave(syncstatus.SaveReady)
			e.status.Flush()
		}
		if !more {
			return
		}
	}
}

// Shutdown drains pending flushes and closes the remote and local handles
// (spec.md §4.5 shutdown, §5 Cancellation).
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(pending) > 0 {
		rows := make([]store.CommitRow, len(pending))
		for i, c := range pending {
			rows[i] = commitToRow(c, 0)
		}
		_, _ = e.cfg.Store.AddCommits(ctx, rows, "")
	}

	e.presence.Retract()
	e.presence.Close()
	if e.election != nil {
		e.election.Close()
	}
	e.disconnectRemote()
	if e.storeSub != nil {
		e.storeSub.Close()
	}
	if e.bcastSub != nil {
		e.bcastSub.Close()
	}
	if e.fsWatch != nil {
		_ = e.fsWatch.Close()
	}
	return e.cfg.Store.Shutdown(ctx)
}
