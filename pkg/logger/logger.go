package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"reprocessor/pkg/config"
)

// Logger defines the interface for logging operations
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
}

// Stream names used to separate operator-facing log lines.
const (
	StreamExecution  = "execution"
	StreamStatistics = "statistics"
)

// Execution returns a child logger for per-unit lifecycle lines.
func Execution(l Logger) Logger {
	return OrNop(l).WithField("stream", StreamExecution)
}

// Statistics returns a child logger for timing and counter summaries.
func Statistics(l Logger) Logger {
	return OrNop(l).WithField("stream", StreamStatistics)
}

// OrNop returns l, or a logger that discards everything when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return zerologLogger{zl: zerolog.Nop()}
}

// zerologLogger carries its fields in the zerolog context, so children are
// cheap and never share mutable state.
type zerologLogger struct {
	zl zerolog.Logger
}

// New creates a Logger from the logging section of the configuration.
// Console output is pretty-printed on a terminal and JSON lines otherwise.
func New(cfg config.LoggingConfig) (Logger, io.Closer, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	out := consoleWriter(os.Stderr, cfg.Format)
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to setup file output: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Str("app", "reprocessor").Logger()
	return zerologLogger{zl: zl}, closer, nil
}

// NewWithWriter builds a JSON logger writing to w. Mostly useful in tests.
func NewWithWriter(w io.Writer, level string) (Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return zerologLogger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}, nil
}

// levelTags are the four-letter console level markers.
var levelTags = map[string]string{
	"debug": "\033[37mDEBG\033[0m",
	"info":  "\033[32mINFO\033[0m",
	"warn":  "\033[33mWARN\033[0m",
	"error": "\033[31mERRO\033[0m",
}

func consoleWriter(out *os.File, format string) io.Writer {
	pretty := false
	switch strings.ToLower(format) {
	case "console":
		pretty = true
	case "json":
	default:
		pretty = isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	}
	if !pretty {
		return out
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			level, _ := i.(string)
			if tag, ok := levelTags[level]; ok {
				return tag
			}
			return strings.ToUpper(level)
		},
		FormatMessage: func(i interface{}) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("| %s", i)
		},
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseLogLevel maps the configured level name to zerolog. Empty means info.
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", level)
}

func (l zerologLogger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l zerologLogger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l zerologLogger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l zerologLogger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l zerologLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l zerologLogger) WithFields(fields map[string]interface{}) Logger {
	return zerologLogger{zl: l.zl.With().Fields(fields).Logger()}
}

// WithError records err under "error". A nil err returns l unchanged.
func (l zerologLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return zerologLogger{zl: l.zl.With().Str("error", err.Error()).Logger()}
}

func (l zerologLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

func (l zerologLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.zl.Info().Fields(fields).Msg(msg)
}

func (l zerologLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

func (l zerologLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.zl.Error().Fields(fields).Msg(msg)
}
