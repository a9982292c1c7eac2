package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Options{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNew_WritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	log, err := New(Options{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("publish started", zap.String("url", "rtmp://localhost/live/key"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "publish started")
	assert.Contains(t, string(data), "rtmp://localhost/live/key")
}

func TestContextLogger_AddsIDs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithTraceID(WithSessionID(context.Background(), "sess-1"), "trace-1")
	cl.Sugar(ctx).Infow("config applied", "fps", 30)
	cl.WithContext(context.Background()).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.Equal(t, int64(30), fields["fps"])
	assert.Empty(t, entries[1].ContextMap())

	assert.Equal(t, "sess-1", SessionID(ctx))
}
