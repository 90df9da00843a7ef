package logger

import (
	"maps"
	"strings"
	"sync"
)

// LogMessage is one line captured by a TestLogger.
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// TestLogger records every line in memory so tests can assert on what a
// component logged. Children created with With* share the parent's record.
type TestLogger struct {
	rec    *recording
	fields map[string]interface{}
	err    error
}

type recording struct {
	mu    sync.Mutex
	lines []LogMessage
}

// NewTestLogger returns an empty TestLogger.
func NewTestLogger() *TestLogger {
	return &TestLogger{rec: &recording{}}
}

func (l *TestLogger) Debug(msg string) { l.emit("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.emit("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.emit("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.emit("ERROR", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, f map[string]interface{}) { l.emit("DEBUG", msg, f) }
func (l *TestLogger) InfoWithFields(msg string, f map[string]interface{})  { l.emit("INFO", msg, f) }
func (l *TestLogger) WarnWithFields(msg string, f map[string]interface{})  { l.emit("WARN", msg, f) }
func (l *TestLogger) ErrorWithFields(msg string, f map[string]interface{}) { l.emit("ERROR", msg, f) }

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return &TestLogger{rec: l.rec, fields: l.with(fields), err: l.err}
}

func (l *TestLogger) WithError(err error) Logger {
	return &TestLogger{rec: l.rec, fields: l.fields, err: err}
}

func (l *TestLogger) with(extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(l.fields)+len(extra))
	maps.Copy(out, l.fields)
	maps.Copy(out, extra)
	return out
}

func (l *TestLogger) emit(level, msg string, fields map[string]interface{}) {
	line := LogMessage{Level: level, Message: msg, Fields: l.with(fields), Error: l.err}
	l.rec.mu.Lock()
	l.rec.lines = append(l.rec.lines, line)
	l.rec.mu.Unlock()
}

// GetMessages returns a copy of every captured line in order.
func (l *TestLogger) GetMessages() []LogMessage {
	return l.filter(func(LogMessage) bool { return true })
}

// GetMessagesByLevel returns the lines logged at level (DEBUG, INFO, WARN, ERROR).
func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	return l.filter(func(m LogMessage) bool { return m.Level == level })
}

// FindMessage returns the first line whose message contains text, or nil.
func (l *TestLogger) FindMessage(text string) *LogMessage {
	found := l.filter(func(m LogMessage) bool { return strings.Contains(m.Message, text) })
	if len(found) == 0 {
		return nil
	}
	return &found[0]
}

// HasMessage reports whether any line's message contains text.
func (l *TestLogger) HasMessage(text string) bool {
	return l.FindMessage(text) != nil
}

// HasError reports whether anything was logged at ERROR.
func (l *TestLogger) HasError() bool {
	return len(l.GetMessagesByLevel("ERROR")) > 0
}

// Clear forgets every captured line.
func (l *TestLogger) Clear() {
	l.rec.mu.Lock()
	l.rec.lines = nil
	l.rec.mu.Unlock()
}

func (l *TestLogger) filter(keep func(LogMessage) bool) []LogMessage {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	var out []LogMessage
	for _, m := range l.rec.lines {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
