// Package obslog is a thin structured-logging wrapper around zerolog,
// adapted from the teacher pack's tree_db/internal/logger package:
// same Config shape, same component-scoped sub-logger pattern
// (DbLogger/GrpcLogger there become Db/Wal/Compaction here), same
// "one line per lifecycle event" call-site style the teacher's own
// log.Printf calls already followed.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how a Logger renders output.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool
	Output io.Writer
}

// Logger wraps a zerolog.Logger with kernel-specific sub-loggers.
type Logger struct {
	z zerolog.Logger
}

// New builds a root Logger from cfg.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	z := zerolog.New(output).Level(level).With().
		Timestamp().
		Str("service", "graphkernel").
		Logger()

	return &Logger{z: z}
}

// Default is a package-level instance used when callers don't wire
// their own (matches the teacher's GetGlobalLogger default-init path).
var Default = New(Config{Level: "info"})

func (l *Logger) component(name string) *Logger {
	return &Logger{z: l.z.With().Str("component", name).Logger()}
}

// Db returns the engine-lifecycle sub-logger (open/close, batch
// commits, checkpoints).
func (l *Logger) Db() *Logger { return l.component("engine") }

// Wal returns the write-ahead-log sub-logger (append, recover, truncate).
func (l *Logger) Wal() *Logger { return l.component("wal") }

// Compaction returns the compactor sub-logger (score, rewrite, GC).
func (l *Logger) Compaction() *Logger { return l.component("compaction") }

func (l *Logger) Debug() *zerolog.Event { return l.z.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.z.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.z.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.z.Error() }
