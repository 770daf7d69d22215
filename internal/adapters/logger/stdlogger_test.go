package logger

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capturedLogger(level LogLevel) (*StdLogger, *bytes.Buffer) {
	l := NewStdLogger(level)
	var buf bytes.Buffer
	l.logger = log.New(&buf, "", 0)
	return l, &buf
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestStdLoggerFiltersBelowLevel(t *testing.T) {
	l, buf := capturedLogger(LevelWarn)
	ctx := context.Background()

	l.Debug(ctx, "quiet")
	l.Info(ctx, "quiet")
	assert.Empty(t, buf.String())

	l.Warn(ctx, "loud")
	assert.Contains(t, buf.String(), "[WARN] loud")
}

func TestStdLoggerRendersErrorAndFields(t *testing.T) {
	l, buf := capturedLogger(LevelDebug)

	l.Error(context.Background(), errors.New("boom"), "order rejected", map[string]interface{}{
		"symbol":  "BTCUSDT",
		"price":   50000,
		"attempt": 2,
	})

	out := buf.String()
	assert.Contains(t, out, "[ERROR] order rejected")
	assert.Contains(t, out, "error: boom")
	// Fields come out key-sorted so repeated lines are comparable.
	assert.Contains(t, out, "attempt=2 price=50000 symbol=BTCUSDT")
}
