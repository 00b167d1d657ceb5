package core

import (
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the console logger, optionally fanned out to a log file.
// The returned closer releases the file.
func NewLogger(name string, level slog.Level, logPath string) (*slog.Logger, func() error, error) {
	return newLogger(os.Stderr, name, level, logPath)
}

func newLogger(w io.Writer, name string, level slog.Level, logPath string) (*slog.Logger, func() error, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(w, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: name,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	closer := func() error { return nil }
	if logPath != "" {
		err := os.MkdirAll(path.Dir(logPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f.Close
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Log routes an engine event to the level its class calls for.
func (e *Engine) Log(event EngineEvent, desc string, args ...any) {
	msg := event.String() + " " + desc
	switch {
	case event >= DiagnosticRaised:
		e.log.Warn(msg, args...)
	case event >= PhaseStarted:
		e.log.Info(msg, args...)
	default:
		e.log.Debug(msg, args...)
	}
}
