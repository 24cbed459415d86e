package observe

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Level orders log severities. The zero value is LevelInfo.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a level name to its Level. Unknown names report false
// and fall back to LevelInfo.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Field is one structured log attribute.
type Field struct {
	Key   string
	Value any
}

// Logger is the structured logging surface handed to callers. All methods
// are safe for concurrent use and never panic.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// WithCall returns a logger that stamps every line with the call's
	// identity.
	WithCall(meta CallMeta) Logger
}

// redacted lists field keys whose values never reach the log stream.
// Prompt and listing text can carry PII; the rest are credential material.
var redacted = map[string]struct{}{
	"prompt":     {},
	"listing":    {},
	"password":   {},
	"secret":     {},
	"token":      {},
	"api_key":    {},
	"apiKey":     {},
	"credential": {},
}

// jsonLogger writes one JSON object per line. Call-scoped derivatives share
// the writer and its mutex.
type jsonLogger struct {
	level Level
	mu    *sync.Mutex
	w     io.Writer
	bound []Field
}

// NewLogger creates a logger writing to stderr. An unknown level name
// falls back to info.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	lvl, _ := ParseLevel(level)
	return newJSONLogger(lvl, w)
}

func newJSONLogger(level Level, w io.Writer) *jsonLogger {
	return &jsonLogger{level: level, mu: &sync.Mutex{}, w: w}
}

func (l *jsonLogger) WithCall(meta CallMeta) Logger {
	bound := make([]Field, 0, len(l.bound)+3)
	bound = append(bound, l.bound...)
	bound = append(bound,
		Field{Key: "ai.call", Value: meta.CallID()},
		Field{Key: "ai.provider", Value: meta.Provider},
	)
	if meta.Model != "" {
		bound = append(bound, Field{Key: "ai.model", Value: meta.Model})
	}
	return &jsonLogger{level: l.level, mu: l.mu, w: l.w, bound: bound}
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.emit(LevelDebug, msg, fields)
}

func (l *jsonLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.emit(LevelInfo, msg, fields)
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.emit(LevelWarn, msg, fields)
}

func (l *jsonLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.emit(LevelError, msg, fields)
}

func (l *jsonLogger) emit(lvl Level, msg string, fields []Field) {
	if lvl < l.level {
		return
	}

	entry := make(map[string]any, 3+len(l.bound)+len(fields))
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = lvl.String()
	entry["msg"] = msg
	for _, f := range l.bound {
		entry[f.Key] = f.Value
	}
	for _, f := range fields {
		if _, hide := redacted[f.Key]; hide {
			entry[f.Key] = "[REDACTED]"
			continue
		}
		entry[f.Key] = f.Value
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(append(line, '\n')) // nolint:errcheck // logging is best-effort
}
