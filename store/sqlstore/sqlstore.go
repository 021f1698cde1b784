// Package sqlstore is docsync's durable LocalStore: an append-only commits
// table plus heads and remotes bookkeeping tables (spec.md §6), backed by
// the pure-Go github.com/ncruces/go-sqlite3 driver so the module needs no
// cgo toolchain, registered under the driver name "sqlite3" via its
// driver/embed side-effect imports.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/docsync/errkind"
	"github.com/untoldecay/docsync/store"
)

// Store is a sqlite-backed LocalStore. All operations are serialized
// through mu, a single-writer discipline (spec.md §5's FIFO queue, made
// concrete as a mutex rather than a goroutine-based queue since
// database/sql already synchronizes connection use); transactions are
// opened with database/sql's default options.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool

	subsMu sync.Mutex
	subs   map[int]func(store.Event)
	nextID int
}

// Open opens (creating if absent) the sqlite database at path and ensures
// the schema exists. userID/clientID are accepted to match store.Factory.
func Open(ctx context.Context, path, userID, clientID string, onEvent func(store.Event)) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer; sqlite serializes anyway

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: apply schema: %w", err)
	}

	if err := ensureLocalStoreID(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, subs: make(map[int]func(store.Event))}
	if onEvent != nil {
		s.Subscribe(onEvent)
	}
	s.publish(store.Event{Kind: store.EventReady})
	_, _ = userID, clientID
	return s, nil
}

// Factory adapts Open to store.Factory for a fixed database path, the way a
// host would bind getLocalStore(userId, clientId, onEvent) to one docId's
// file (spec.md §4.2: "the database file is keyed by docId").
func Factory(path string) store.Factory {
	return func(ctx context.Context, userID, clientID string, onEvent func(store.Event)) (store.LocalStore, error) {
		return Open(ctx, path, userID, clientID, onEvent)
	}
}

func ensureLocalStoreID(ctx context.Context, db *sql.DB) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM remotes`).Scan(&count); err != nil {
		return fmt.Errorf("sqlstore: count remotes: %w", err)
	}
	if count > 0 {
		return nil
	}
	id := uuid.NewString()
	if _, err := db.ExecContext(ctx, `INSERT INTO remotes (local_store_id, last_sync_cursor) VALUES (?, '')`, id); err != nil {
		return fmt.Errorf("sqlstore: seed local store id: %w", err)
	}
	return nil
}

func (s *Store) publish(e store.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, fn := range s.subs {
		fn(e)
	}
}

type subscription struct {
	s  *Store
	id int
}

func (sub subscription) Close() {
	sub.s.subsMu.Lock()
	defer sub.s.subsMu.Unlock()
	delete(sub.s.subs, sub.id)
}

// Subscribe registers fn for every event this store publishes.
func (s *Store) Subscribe(fn func(store.Event)) store.Subscription {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return subscription{s: s, id: id}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return errkind.Wrap(errkind.Shutdown, fmt.Errorf("sqlstore: store is shut down"))
	}
	return nil
}

// Shutdown closes the underlying database handle.
func (s *Store) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlstore: close: %w", err)
	}
	return nil
}

// DeleteDocDatabase shuts down s (when non-nil) and removes the database
// file at path together with its -wal, -shm and -journal siblings (spec.md
// §4.8). Only s is closed: other Store handles open on the same file are
// not tracked here and stay open.
func DeleteDocDatabase(s *Store, path string) error {
	if s != nil {
		if err := s.Shutdown(context.Background()); err != nil {
			return err
		}
	}
	if err := removeFile(path); err != nil {
		return fmt.Errorf("sqlstore: delete database %s: %w", path, err)
	}
	return nil
}
