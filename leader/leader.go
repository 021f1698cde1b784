// Package leader elects exactly one remote-proxy engine among the clients
// sharing a local store (spec.md §4.7). In-process candidates race over a
// broadcast.Channel with a (clientId, randomTiebreak) proposal; the
// survivor is reported through onChange and periodically re-broadcasts a
// proposal carrying the maximum tiebreak as its heartbeat. A second, coarser tie-break uses an advisory file lock
// (gofrs/flock) for cross-process mutual exclusion, so that when two OS
// processes race for the same store, the one that actually wins the
// in-process election is also the one able to hold the lock, rather than
// two independent in-process winners both
// believing they are the sole leader.
package leader

import (
	"math/rand"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/untoldecay/docsync/broadcast"
)

// Proposal is broadcast by every candidate at the start of an election.
type Proposal struct {
	ClientID       string
	RandomTiebreak uint64
}

// Less reports whether p loses to other under a deterministic ordering: the
// higher RandomTiebreak wins, and the higher ClientID wins when tiebreaks
// are equal.
func (p Proposal) Less(other Proposal) bool {
	if p.RandomTiebreak != other.RandomTiebreak {
		return p.RandomTiebreak < other.RandomTiebreak
	}
	return p.ClientID < other.ClientID
}

// Config carries the timeouts spec.md §6 groups under "network settings".
type Config struct {
	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Election runs leader election for one client over a broadcast channel,
// optionally backed by a cross-process file lock.
type Election struct {
	clientID string
	ch       broadcast.Channel
	cfg      Config
	lockPath string

	mu        sync.Mutex
	isLeader  bool
	best      Proposal
	lastBeat  time.Time
	onChange  func(isLeader bool)
	sub       broadcast.Subscription
	stop      chan struct{}
	flockHold *flock.Flock
}

// New starts an Election for clientID. lockPath may be empty, in which case
// only the in-process broadcast tie-break applies. onChange fires whenever
// this client's leadership flips.
func New(clientID string, ch broadcast.Channel, cfg Config, lockPath string, onChange func(isLeader bool)) *Election {
	e := &Election{
		clientID: clientID,
		ch:       ch,
		cfg:      cfg,
		lockPath: lockPath,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	e.sub = ch.Subscribe(e.onMessage)
	go e.run()
	return e
}

func (e *Election) onMessage(msg broadcast.Message) {
	if msg.Kind != broadcast.KindElection {
		return
	}
	prop, ok := msg.Election.(Proposal)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if prop.ClientID == e.clientID {
		return // our own proposal or heartbeat, echoed back by the channel
	}
	if e.best.Less(prop) {
		e.best = prop
		if e.isLeader {
			e.setLeader(false)
		}
	}
	e.lastBeat = time.Now()
}

func (e *Election) run() {
	e.propose()
	timeout := e.cfg.ElectionTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		e.conclude()
	case <-e.stop:
		return
	}

	interval := e.cfg.HeartbeatInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.heartbeatOrWatch()
		case <-e.stop:
			return
		}
	}
}

func (e *Election) propose() {
	prop := Proposal{ClientID: e.clientID, RandomTiebreak: rand.Uint64()} //nolint:gosec // tie-break only, not security sensitive
	e.mu.Lock()
	if e.best.Less(prop) {
		e.best = prop
	}
	e.mu.Unlock()
	e.ch.Publish(broadcast.Message{Kind: broadcast.KindElection, Election: prop, FromClientID: e.clientID})
}

func (e *Election) conclude() {
	e.mu.Lock()
	won := e.best.ClientID == e.clientID
	e.mu.Unlock()

	if won && e.lockPath != "" {
		won = e.tryAcquireLock()
	}

	e.mu.Lock()
	e.setLeader(won)
	e.lastBeat = time.Now()
	e.mu.Unlock()
}

func (e *Election) tryAcquireLock() bool {
	fl := flock.New(e.lockPath)
	ok, err := fl.TryLock()
	if err != nil || !ok {
		return false
	}
	e.flockHold = fl
	return true
}

// setLeader must be called with e.mu held.
func (e *Election) setLeader(leader bool) {
	if e.isLeader == leader {
		return
	}
	e.isLeader = leader
	if !leader && e.flockHold != nil {
		_ = e.flockHold.Unlock()
		e.flockHold = nil
	}
	if e.onChange != nil {
		e.onChange(leader)
	}
}

func (e *Election) heartbeatOrWatch() {
	e.mu.Lock()
	leader := e.isLeader
	sinceLast := time.Since(e.lastBeat)
	timeout := e.cfg.HeartbeatTimeout
	e.mu.Unlock()

	if leader {
		e.ch.Publish(broadcast.Message{
			Kind:         broadcast.KindElection,
			Election:     Proposal{ClientID: e.clientID, RandomTiebreak: ^uint64(0)},
			FromClientID: e.clientID,
		})
		e.mu.Lock()
		e.lastBeat = time.Now()
		e.mu.Unlock()
		return
	}

	if timeout > 0 && sinceLast > timeout {
		// Leader heartbeat timed out: re-run the election.
		e.mu.Lock()
		e.best = Proposal{}
		e.mu.Unlock()
		e.propose()
		time.Sleep(e.cfg.ElectionTimeout)
		e.conclude()
	}
}

// IsLeader reports whether this client currently holds leadership.
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// Close stops the election loop and releases any held lock.
func (e *Election) Close() {
	close(e.stop)
	e.sub.Close()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.flockHold != nil {
		_ = e.flockHold.Unlock()
		e.flockHold = nil
	}
}
