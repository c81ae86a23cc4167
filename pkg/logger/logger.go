// Package logger is the line-oriented JSON logger of the HTTP API.
// Each record is one JSON object with the base keys ts, level and msg
// followed by the structured fields.
package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a record.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// ParseLevel maps a config value to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Field is one structured key/value pair.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field  { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Err records err under "error". A nil error is written as null.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration writes d in milliseconds with microsecond precision.
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: float64(d.Microseconds()) / 1000}
}

// Domain fields.
func StudentID(id string) Field     { return String("student_id", id) }
func AlertID(id string) Field       { return String("alert_id", id) }
func Cycle(id string) Field         { return String("cycle_id", id) }
func Component(name string) Field   { return String("component", name) }
func Latency(d time.Duration) Field { return Duration("latency_ms", d) }

// Options configures New.
type Options struct {
	Output    io.Writer
	Level     Level
	AddCaller bool
}

// Logger writes JSON lines. Loggers derived with With share the
// underlying writer and its lock.
type Logger struct {
	out       *syncWriter
	level     Level
	addCaller bool
	fields    []Field
	now       func() time.Time
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(p []byte) {
	s.mu.Lock()
	_, _ = s.w.Write(p)
	s.mu.Unlock()
}

// New creates a logger. A nil Output means stdout.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Logger{
		out:       &syncWriter{w: opts.Output},
		level:     opts.Level,
		addCaller: opts.AddCaller,
		now:       time.Now,
	}
}

// Default logs info and above to stdout.
func Default() *Logger {
	return New(Options{Level: LevelInfo})
}

// With returns a child logger that adds fields to every record.
func (l *Logger) With(fields ...Field) *Logger {
	child := *l
	child.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return &child
}

// Enabled reports whether records at level are written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

func (l *Logger) write(level Level, msg string, fields []Field) {
	if !l.Enabled(level) {
		return
	}

	var buf bytes.Buffer
	buf.WriteString(`{"ts":`)
	appendJSON(&buf, l.now().UTC().Format(time.RFC3339Nano))
	buf.WriteString(`,"level":`)
	appendJSON(&buf, level.String())
	buf.WriteString(`,"msg":`)
	appendJSON(&buf, msg)

	if l.addCaller {
		// write <- Info/Warn/... <- caller
		if _, file, line, ok := runtime.Caller(2); ok {
			buf.WriteString(`,"caller":`)
			appendJSON(&buf, file[strings.LastIndexByte(file, '/')+1:]+":"+strconv.Itoa(line))
		}
	}

	// Later fields win over earlier ones with the same key.
	seen := make(map[string]int, len(l.fields)+len(fields))
	merged := make([]Field, 0, len(l.fields)+len(fields))
	for _, group := range [][]Field{l.fields, fields} {
		for _, f := range group {
			if i, ok := seen[f.Key]; ok {
				merged[i] = f
				continue
			}
			seen[f.Key] = len(merged)
			merged = append(merged, f)
		}
	}
	for _, f := range merged {
		buf.WriteByte(',')
		appendJSON(&buf, f.Key)
		buf.WriteByte(':')
		appendJSON(&buf, f.Value)
	}
	buf.WriteString("}\n")

	l.out.write(buf.Bytes())
}

func appendJSON(buf *bytes.Buffer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal("!marshal: " + err.Error())
	}
	buf.Write(data)
}

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// RequestIDKey is the field key of the request correlation id.
const RequestIDKey = "request_id"

// WithRequestID is shorthand for With(String(RequestIDKey, id)).
func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(String(RequestIDKey, id))
}
