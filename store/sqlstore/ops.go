package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/untoldecay/docsync/store"
)

func removeFile(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// AddCommits idempotently inserts commits, assigning each new row the local
// syncId MAX(local_sync_id)+1, then stamps remoteSyncID when provided —
// re-inserting an already-present ref with a newer remoteSyncID is treated
// as an ack, not a duplicate error (spec.md §9).
func (s *Store) AddCommits(ctx context.Context, commits []store.CommitRow, remoteSyncID string) (store.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return store.Ack{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Ack{}, fmt.Errorf("sqlstore: begin add commits: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ack := store.Ack{}
	var arrived []store.CommitRow
	var maxSyncID uint64

	for _, c := range commits {
		var existingRemote sql.NullString
		var existingSyncID uint64
		err := tx.QueryRowContext(ctx, `SELECT remote_sync_id, local_sync_id FROM commits WHERE ref = ?`, c.Ref).
			Scan(&existingRemote, &existingSyncID)
		switch {
		case err == sql.ErrNoRows:
			next, nerr := nextSyncID(ctx, tx)
			if nerr != nil {
				return store.Ack{}, nerr
			}
			rsid := c.RemoteSyncID
			if remoteSyncID != "" {
				rsid = remoteSyncID
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO commits (ref, local_sync_id, remote_sync_id, user_id, client_id, base_ref, merge_ref, merge_base_ref, delta, edit_metadata)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.Ref, next, rsid, c.UserID, c.ClientID, c.BaseRef, c.MergeRef, c.MergeBaseRef, c.Delta, c.EditMetadata)
			if err != nil {
				return store.Ack{}, fmt.Errorf("sqlstore: insert commit %s: %w", c.Ref, err)
			}
			if err := updateHeads(ctx, tx, c); err != nil {
				return store.Ack{}, err
			}
			c.LocalSyncID = next
			if rsid != "" {
				c.RemoteSyncID = rsid
			}
			arrived = append(arrived, c)
			ack.Refs = append(ack.Refs, c.Ref)
			if next > maxSyncID {
				maxSyncID = next
			}
		case err != nil:
			return store.Ack{}, fmt.Errorf("sqlstore: lookup commit %s: %w", c.Ref, err)
		default:
			if remoteSyncID != "" && existingRemote.String != remoteSyncID {
				if _, err := tx.ExecContext(ctx, `UPDATE commits SET remote_sync_id = ? WHERE ref = ?`, remoteSyncID, c.Ref); err != nil {
					return store.Ack{}, fmt.Errorf("sqlstore: ack commit %s: %w", c.Ref, err)
				}
			}
			ack.Refs = append(ack.Refs, c.Ref)
			if existingSyncID > maxSyncID {
				maxSyncID = existingSyncID
			}
		}
	}

	if remoteSyncID != "" {
		if err := setLastSyncCursor(ctx, tx, remoteSyncID); err != nil {
			return store.Ack{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Ack{}, fmt.Errorf("sqlstore: commit add commits: %w", err)
	}

	ack.SyncID = maxSyncID
	if len(arrived) > 0 {
		s.publish(store.Event{Kind: store.EventCommits, Commits: arrived, SyncID: maxSyncID})
	}
	s.publish(store.Event{Kind: store.EventAck, Refs: ack.Refs, SyncID: maxSyncID})
	return ack, nil
}

func nextSyncID(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var max sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(local_sync_id) FROM commits`).Scan(&max); err != nil {
		return 0, fmt.Errorf("sqlstore: next sync id: %w", err)
	}
	return uint64(max.Int64) + 1, nil
}

func updateHeads(ctx context.Context, tx *sql.Tx, c store.CommitRow) error {
	for _, parent := range []string{c.BaseRef, c.MergeRef} {
		if parent == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM heads WHERE ref = ?`, parent); err != nil {
			return fmt.Errorf("sqlstore: clear head %s: %w", parent, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO heads (ref) VALUES (?)`, c.Ref); err != nil {
		return fmt.Errorf("sqlstore: add head %s: %w", c.Ref, err)
	}
	return nil
}

func setLastSyncCursor(ctx context.Context, tx *sql.Tx, cursor string) error {
	var id string
	if err := tx.QueryRowContext(ctx, `SELECT local_store_id FROM remotes LIMIT 1`).Scan(&id); err != nil {
		return fmt.Errorf("sqlstore: read local store id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE remotes SET last_sync_cursor = ? WHERE local_store_id = ?`, cursor, id); err != nil {
		return fmt.Errorf("sqlstore: update sync cursor: %w", err)
	}
	return nil
}

// AcknowledgeCommits marks existing rows remote-synced without re-inserting.
func (s *Store) AcknowledgeCommits(ctx context.Context, refs []string, remoteSyncID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin acknowledge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, ref := range refs {
		res, err := tx.ExecContext(ctx, `UPDATE commits SET remote_sync_id = ? WHERE ref = ?`, remoteSyncID, ref)
		if err != nil {
			return fmt.Errorf("sqlstore: acknowledge %s: %w", ref, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sqlstore: acknowledge unknown ref %s", ref)
		}
	}
	if err := setLastSyncCursor(ctx, tx, remoteSyncID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit acknowledge: %w", err)
	}
	s.publish(store.Event{Kind: store.EventAck, Refs: refs})
	return nil
}

// GetLocalCommitsEvent returns every commit with local_sync_id > since.
func (s *Store) GetLocalCommitsEvent(ctx context.Context, since uint64) ([]store.CommitRow, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ref, local_sync_id, remote_sync_id, user_id, client_id, base_ref, merge_ref, merge_base_ref, delta, edit_metadata
		FROM commits WHERE local_sync_id > ? ORDER BY local_sync_id ASC`, since)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlstore: query local commits: %w", err)
	}
	defer rows.Close()

	var out []store.CommitRow
	syncID := since
	for rows.Next() {
		var c store.CommitRow
		if err := rows.Scan(&c.Ref, &c.LocalSyncID, &c.RemoteSyncID, &c.UserID, &c.ClientID, &c.BaseRef, &c.MergeRef, &c.MergeBaseRef, &c.Delta, &c.EditMetadata); err != nil {
			return nil, 0, fmt.Errorf("sqlstore: scan commit: %w", err)
		}
		out = append(out, c)
		if c.LocalSyncID > syncID {
			syncID = c.LocalSyncID
		}
	}
	return out, syncID, rows.Err()
}

// GetRemoteSyncInfo reports the store's identity and last remote cursor.
func (s *Store) GetRemoteSyncInfo(ctx context.Context) (store.RemoteSyncInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return store.RemoteSyncInfo{}, err
	}
	var id, cursor string
	if err := s.db.QueryRowContext(ctx, `SELECT local_store_id, last_sync_cursor FROM remotes LIMIT 1`).Scan(&id, &cursor); err != nil {
		return store.RemoteSyncInfo{}, fmt.Errorf("sqlstore: read remote sync info: %w", err)
	}
	return store.RemoteSyncInfo{LocalStoreID: id, LastSyncCursor: cursor, HasLastSyncCursor: cursor != ""}, nil
}

const remoteBatchSize = 5

type batchIterator struct {
	s    *Store
	last string // ref cursor within the not-yet-synced set; "" means start
}

func (b *batchIterator) Next(ctx context.Context) ([]store.CommitRow, bool, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if err := b.s.checkOpen(); err != nil {
		return nil, false, err
	}

	rows, err := b.s.db.QueryContext(ctx, `
		SELECT ref, local_sync_id, remote_sync_id, user_id, client_id, base_ref, merge_ref, merge_base_ref, delta, edit_metadata
		FROM commits WHERE remote_sync_id = '' AND ref > ? ORDER BY ref ASC LIMIT ?`, b.last, remoteBatchSize)
	if err != nil {
		return nil, false, fmt.Errorf("sqlstore: query remote batch: %w", err)
	}
	defer rows.Close()

	var out []store.CommitRow
	for rows.Next() {
		var c store.CommitRow
		if err := rows.Scan(&c.Ref, &c.LocalSyncID, &c.RemoteSyncID, &c.UserID, &c.ClientID, &c.BaseRef, &c.MergeRef, &c.MergeBaseRef, &c.Delta, &c.EditMetadata); err != nil {
			return nil, false, fmt.Errorf("sqlstore: scan remote batch row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(out) == 0 {
		return nil, false, nil
	}
	b.last = out[len(out)-1].Ref
	return out, true, nil
}

// CommitsForRemote returns a lazy, backpressured iterator over unsynced
// commits in batches of remoteBatchSize.
func (s *Store) CommitsForRemote(_ context.Context) store.RemoteBatchIterator {
	return &batchIterator{s: s}
}

// ResetDocRemoteSyncData clears remotes and blanks every commit's
// remote_sync_id, forcing a fresh re-push on next leader election.
func (s *Store) ResetDocRemoteSyncData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin reset: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE commits SET remote_sync_id = ''`); err != nil {
		return fmt.Errorf("sqlstore: clear remote sync ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE remotes SET last_sync_cursor = ''`); err != nil {
		return fmt.Errorf("sqlstore: clear sync cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit reset: %w", err)
	}
	return nil
}
