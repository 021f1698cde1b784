// Package fsbroadcast extends broadcast across OS process boundaries for
// hosts using store/sqlstore: it watches the database file's directory with
// fsnotify and turns every write (any process appending commits touches the
// file's mtime, via the WAL) into a broadcast.KindCommitArrived message on a
// local broadcast.Channel: the cross-process analog of broadcast.go's
// in-process fan-out, re-polling on filesystem change instead of requiring
// every process to share one Go value.
package fsbroadcast

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/untoldecay/docsync/broadcast"
)

// Watcher bridges one database file's writes into commit-arrived messages
// on the wrapped channel.
type Watcher struct {
	watcher *fsnotify.Watcher
	ch      broadcast.Channel
	done    chan struct{}
}

// Watch starts watching dbPath's directory and republishing write events as
// broadcast.KindCommitArrived messages (with no refs — recipients re-poll
// the store, exactly as spec.md §4.3 prescribes for a lossy notification).
func Watch(dbPath string, ch broadcast.Channel) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsbroadcast: new watcher: %w", err)
	}
	dir := filepath.Dir(dbPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("fsbroadcast: watch %s: %w", dir, err)
	}

	fw := &Watcher{watcher: w, ch: ch, done: make(chan struct{})}
	base := filepath.Base(dbPath)
	go fw.loop(base)
	return fw, nil
}

func (w *Watcher) loop(base string) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base && filepath.Base(ev.Name) != base+"-wal" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.ch.Publish(broadcast.Message{Kind: broadcast.KindCommitArrived})
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
