package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: level})
	l.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesJSONLine(t *testing.T) {
	l, buf := newTestLogger(LevelInfo)

	l.Info("alert resolved", AlertID("a-1"), StudentID("ST001"), Err(errors.New("boom")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "2024-03-01T09:00:00Z", lines[0]["ts"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "alert resolved", lines[0]["msg"])
	assert.Equal(t, "a-1", lines[0]["alert_id"])
	assert.Equal(t, "ST001", lines[0]["student_id"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.NotContains(t, lines[0], "caller")
}

func TestLogger_LevelFilter(t *testing.T) {
	l, buf := newTestLogger(LevelWarn)

	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])
	assert.False(t, l.Enabled(LevelInfo))
}

func TestLogger_WithKeepsParentUntouched(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)
	child := l.With(Component("scheduler")).WithRequestID("req-7")

	child.Debug("tick", Component("override"))
	l.Debug("parent")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "override", lines[0]["component"])
	assert.Equal(t, "req-7", lines[0][RequestIDKey])
	assert.NotContains(t, lines[1], "component")
}

func TestLogger_Caller(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, AddCaller: true})

	l.Info("here")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0]["caller"], "logger_test.go:")
}

func TestLogger_UnmarshalableValue(t *testing.T) {
	l, buf := newTestLogger(LevelInfo)

	l.Info("odd", Any("ch", make(chan int)))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0]["ch"], "!marshal")
}

func TestDuration(t *testing.T) {
	f := Latency(1500 * time.Microsecond)
	assert.Equal(t, "latency_ms", f.Key)
	assert.InDelta(t, 1.5, f.Value, 1e-9)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
	assert.Equal(t, "warn", LevelWarn.String())
}

func TestContext(t *testing.T) {
	l, _ := newTestLogger(LevelInfo)
	ctx := WithContext(context.Background(), l)

	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
