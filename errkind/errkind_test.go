package errkind

import (
	"errors"
	"testing"
)

func TestWrapAndOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(Storage, base)

	kind, ok := Of(wrapped)
	if !ok {
		t.Fatalf("expected kind to be recoverable")
	}
	if kind != Storage {
		t.Fatalf("expected Storage, got %v", kind)
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected wrapped error to unwrap to base")
	}
}

func TestOfUnclassifiedDefaultsToFatal(t *testing.T) {
	kind, ok := Of(errors.New("plain"))
	if ok {
		t.Fatalf("expected unclassified error to report ok=false")
	}
	if kind != Fatal {
		t.Fatalf("expected Fatal default, got %v", kind)
	}
}

func TestRetryable(t *testing.T) {
	retryable := []Kind{Network, Protocol, Storage}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%v should be retryable", k)
		}
	}
	terminal := []Kind{Merge, Shutdown, Fatal}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("%v should not be retryable", k)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Network, nil) != nil {
		t.Fatalf("expected Wrap(nil) to return nil")
	}
}
