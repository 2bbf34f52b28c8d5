package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"dotkeep/internal/keep"
)

// newLogger builds a zerolog logger writing to both a console writer on
// stderr and the log file, and returns the open file for cleanup. The
// verbosity count maps 0 to warn, 1 to info, and 2 or more to debug.
func newLogger(logPath string, verbosity int) (zerolog.Logger, *os.File, error) {
	var level zerolog.Level
	switch verbosity {
	case 0:
		level = zerolog.WarnLevel
	case 1:
		level = zerolog.InfoLevel
	default:
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}

	writers := []io.Writer{console}
	var file *os.File
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			file = f
			writers = append(writers, f)
		}
	}

	logger := zerolog.New(io.MultiWriter(writers...)).Level(level).With().Timestamp().Logger()
	if file == nil {
		logger.Warn().Str("path", logPath).Msg("logging to console only")
	}
	return logger, file, nil
}

// zerologAdapter wraps zerolog.Logger to satisfy the keep.Logger
// interface, converting alternating key/value args to fields.
type zerologAdapter struct {
	l zerolog.Logger
}

var _ keep.Logger = (*zerologAdapter)(nil)

func (a *zerologAdapter) log(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, args ...any) { a.log(a.l.Debug(), msg, args) }
func (a *zerologAdapter) Info(msg string, args ...any)  { a.log(a.l.Info(), msg, args) }
func (a *zerologAdapter) Warn(msg string, args ...any)  { a.log(a.l.Warn(), msg, args) }
func (a *zerologAdapter) Error(msg string, args ...any) { a.log(a.l.Error(), msg, args) }
