package logging

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestLevelConversion(t *testing.T) {
	cases := map[Level]slog.Level{
		LevelDebug: slog.LevelDebug,
		LevelInfo:  slog.LevelInfo,
		LevelWarn:  slog.LevelWarn,
		LevelError: slog.LevelError,
		Level(""):  slog.LevelWarn,
	}
	for in, want := range cases {
		if got := in.slogLevel(); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestPrettyDeltaPassesThroughEmpty(t *testing.T) {
	if out := PrettyDelta(nil); out != nil {
		t.Fatalf("expected nil passthrough, got %v", out)
	}
}

func TestPrettyDeltaFormatsJSON(t *testing.T) {
	out := PrettyDelta([]byte(`{"a":1}`))
	if !bytes.Contains(out, []byte("\n")) {
		t.Fatalf("expected pretty-printed output to contain newlines, got %q", out)
	}
}
