// Package logger provides the structured logging interface used across the
// relay, backed by zerolog. Components receive a Logger and derive scoped
// loggers with With so every entry carries its session or subsystem fields.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
type Field struct {
	Key   string
	Value any
}

// Format selects how log entries are rendered.
type Format string

const (
	// FormatJSON writes one JSON object per entry.
	FormatJSON Format = "json"
	// FormatConsole writes human readable, optionally colored lines.
	FormatConsole Format = "console"
)

// Logger is an interface for structured logging. Implementations write log
// entries at different levels and support attaching structured fields.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The original Logger is unchanged.
	With(fields ...Field) Logger

	// Close releases the log file owned by a file logger. Loggers derived
	// with With do not own it and return nil.
	Close() error
}

// Options configures New.
type Options struct {
	// Service is attached to every entry as the "service" field.
	Service string
	// Level is the minimum level written.
	Level zerolog.Level
	// Format selects JSON or console output. Empty means JSON.
	Format Format
	// Output receives the entries. Nil means os.Stderr.
	Output io.Writer
}

type zerologLogger struct {
	logger zerolog.Logger
	file   *DailyFileWriter
}

// New builds a zerolog-backed Logger from opts.
//
// Parameters:
//   - opts: Service name, level, format and destination
//
// Returns:
//   - A Logger writing to opts.Output
func New(opts Options) Logger {
	return &zerologLogger{logger: newZerolog(opts, consoleOutput(opts))}
}

// NewZerologFileLogger builds a Logger that writes to opts.Output and, as
// JSON, to daily rotated files {service}_{date}.log under logDir. Close the
// returned Logger on shutdown to release the file.
//
// Parameters:
//   - opts: Service name, level, format and console destination
//   - logDir: Directory for the log files, created if missing
//
// Returns:
//   - The Logger, or an error if the log file could not be opened
func NewZerologFileLogger(opts Options, logDir string) (Logger, error) {
	service := opts.Service
	if service == "" {
		service = "relay"
	}

	fw, err := NewDailyFileWriter(service, logDir)
	if err != nil {
		return nil, err
	}

	out := zerolog.MultiLevelWriter(consoleOutput(opts), fw)
	return &zerologLogger{logger: newZerolog(opts, out), file: fw}, nil
}

func consoleOutput(opts Options) io.Writer {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.Format == FormatConsole {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

func newZerolog(opts Options, out io.Writer) zerolog.Logger {
	ctx := zerolog.New(out).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}

	return ctx.Logger().Level(opts.Level)
}

// NewNopLogger returns a Logger that discards everything. Useful in tests.
func NewNopLogger() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// ParseLevel converts a textual level ("debug", "info", "warn", "error",
// "disabled") into a zerolog.Level.
func ParseLevel(s string) (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}

	return lvl, nil
}

// ParseFormat validates a textual output format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatConsole:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q", s)
	}
}

// Debug implements Logger.
func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

// Info implements Logger.
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

// Warn implements Logger.
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

// Error implements Logger.
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

// With implements Logger.
func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger: z.logger.With().Fields(toMap(fields)).Logger(),
	}
}

// Close implements Logger.
func (z *zerologLogger) Close() error {
	if z.file == nil {
		return nil
	}
	return z.file.Close()
}

// toMap converts a slice of Field into a map for zerolog.
func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
