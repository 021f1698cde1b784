// Package logging builds docsync's structured logger the way
// tonimelisma-onedrive-go's buildLogger does: a log/slog.Logger whose level
// is resolved from config, with a rotating file sink swapped in for hosts
// that want durable logs instead of stderr, via gopkg.in/natefinch/lumberjack.v2.
package logging

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/tidwall/pretty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors the four slog levels a host can select, string-keyed the
// way a config file or CLI flag would name them.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// FileRotation configures the lumberjack sink. A zero value disables file
// rotation and logs go to stderr instead.
type FileRotation struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a logger at level, writing to stderr unless rotation names a
// file path, in which case lumberjack handles size/age-based rotation.
func New(level Level, rotation FileRotation) *slog.Logger {
	var writer interface {
		Write([]byte) (int, error)
	}
	if rotation.Path != "" {
		writer = &lumberjack.Logger{
			Filename:   rotation.Path,
			MaxSize:    rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAgeDays,
		}
	} else {
		writer = os.Stderr
	}
	return slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level.slogLevel()}))
}

// PrettyDelta renders a JSON delta for debug-level logging, matching how a
// host would want to eyeball a commit's patch without a separate tool.
// Non-JSON input (deltas from a non-JSON differ) is returned unchanged.
func PrettyDelta(delta []byte) []byte {
	if len(delta) == 0 || !json.Valid(delta) {
		return delta
	}
	return pretty.Pretty(delta)
}
