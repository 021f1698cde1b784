// Package errkind classifies docsync errors into the six kinds spec.md §7
// names, so the engine can route a failure to the right sync-status axis
// without every caller re-deriving that mapping. It is a small sentinel
// + wrapping package in the fmt.Errorf("%w", ...) idiom rather than a
// custom error type hierarchy.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the six error kinds spec.md §7 distinguishes.
type Kind int

const (
	Network Kind = iota
	Protocol
	Storage
	Merge
	Shutdown
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "network"
	case Protocol:
		return "protocol"
	case Storage:
		return "storage"
	case Merge:
		return "merge"
	case Shutdown:
		return "shutdown"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kindError pairs an error with its Kind so callers can recover it with As.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Of extracts the Kind from an error wrapped with Wrap, and false if err
// was never classified (callers should then treat it as Fatal, the safest
// default per spec.md §7's "unrecoverable" definition).
func Of(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return Fatal, false
}

// Retryable reports whether an error of this kind should trigger a retry
// (network, protocol, storage all retry per spec.md §7; merge does not
// retry with the same inputs; shutdown and fatal never retry).
func (k Kind) Retryable() bool {
	switch k {
	case Network, Protocol, Storage:
		return true
	default:
		return false
	}
}
