package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in       string
		expected Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			lvl, err := ParseLevel(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, lvl)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Output: &buf})

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "hidden too")
	l.Warn(context.Background(), errors.New("boom"), "shown", "template", "base.html")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "template=base.html")
}

func TestWithAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelDebug, Format: "json", Output: &buf}).
		WithComponent("kernel").
		With("dialect", "django")

	l.Debug(context.Background(), "parsed", "nodes", 3)

	out := buf.String()
	assert.Contains(t, out, `"component":"kernel"`)
	assert.Contains(t, out, `"dialect":"django"`)
	assert.Contains(t, out, `"nodes":3`)
}

func TestNopAndFromSlog(t *testing.T) {
	Nop().Error(context.Background(), errors.New("x"), "discarded")

	var buf bytes.Buffer
	l := FromSlog(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Debug(context.Background(), "via slog")
	assert.Contains(t, buf.String(), "via slog")
}

func TestSlogRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Format: "json", Output: &buf})
	s := l.Slog()
	s.Info("filtered")
	s.Warn("kept", "n", 1)
	assert.NotContains(t, buf.String(), "filtered")
	assert.Contains(t, buf.String(), `"msg":"kept"`)

	FromSlog(s).Error(context.Background(), errors.New("boom"), "wrapped")
	assert.Contains(t, buf.String(), `"error":"boom"`)
}
