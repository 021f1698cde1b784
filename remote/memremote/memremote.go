// Package memremote is docsync's loopback reference Remote transport: a
// process-local "server" that several RemoteHandle clients can push to (it
// never sends commits back to them), used to exercise engine end-to-end
// (spec.md §8 scenarios 4-6)
// without a real network: a real in-process transport, even though the
// wire format itself is out of scope.
package memremote

import (
	"context"
	"fmt"
	"sync"

	"github.com/untoldecay/docsync/remote"
	"github.com/untoldecay/docsync/store"
)

// Server holds every commit ever pushed to it and the cursor counter used
// to ack pushes.
type Server struct {
	mu      sync.Mutex
	commits map[string]store.CommitRow
	order   []string
	cursor  uint64

	subsMu sync.Mutex
	subs   map[int]func(event store.CommitRow)
	nextID int

	online bool
}

// NewServer returns a running loopback remote server.
func NewServer() *Server {
	return &Server{commits: make(map[string]store.CommitRow), subs: make(map[int]func(store.CommitRow)), online: true}
}

// SetOnline toggles whether Factory-produced handles can reach the server,
// modelling "remote disconnect and resume" (spec.md §8 scenario 4).
func (s *Server) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

func (s *Server) isOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Server) push(commits []store.CommitRow) (refs []string, cursor string, err error) {
	s.mu.Lock()
	for _, c := range commits {
		if _, ok := s.commits[c.Ref]; !ok {
			s.commits[c.Ref] = c
			s.order = append(s.order, c.Ref)
		}
		refs = append(refs, c.Ref)
	}
	s.cursor++
	cur := s.cursor
	s.mu.Unlock()

	return refs, fmt.Sprintf("%d", cur), nil
}

// Snapshot returns every commit the server has received, in arrival order.
func (s *Server) Snapshot() []store.CommitRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.CommitRow, 0, len(s.order))
	for _, ref := range s.order {
		out = append(out, s.commits[ref])
	}
	return out
}

// Factory returns a remote.Factory whose handles push to this server; it
// fails while the server is offline and otherwise emits EventReady.
func Factory(s *Server) remote.Factory {
	return func(ctx context.Context, userID string, info store.RemoteSyncInfo, onEvent func(remote.Event)) (remote.RemoteHandle, error) {
		if !s.isOnline() {
			return nil, fmt.Errorf("memremote: server offline")
		}
		onEvent(remote.Event{Kind: remote.EventReady})
		return &handle{server: s}, nil
	}
}

type handle struct {
	server *Server
}

func (h *handle) SendCommits(_ context.Context, commits []store.CommitRow) ([]string, string, error) {
	if !h.server.isOnline() {
		return nil, "", fmt.Errorf("memremote: server offline")
	}
	return h.server.push(commits)
}

func (h *handle) Close() error { return nil }
