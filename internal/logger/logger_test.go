package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncHandlerWritesFileAndConsole(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	console := &syncBuffer{}
	handler := newAsyncHandler(dir, slog.LevelInfo, 0, console)
	log := slog.New(handler)

	log.Debug("hidden")
	log.With("room", "r1").WithGroup("op").Info("committed", "seq", 3)
	require.NoError(t, handler.Close())

	out := console.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "committed")
	assert.Contains(t, out, "room=r1")
	assert.Contains(t, out, "op.seq=3")

	data, err := os.ReadFile(filepath.Join(dir, time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "committed")
}

func TestAsyncHandlerWriteAfterClose(t *testing.T) {
	color.NoColor = true
	console := &syncBuffer{}
	handler := newAsyncHandler("", slog.LevelInfo, 0, console)
	require.NoError(t, handler.Close())
	require.NoError(t, handler.Close())

	slog.New(handler).Info("late")
	assert.Contains(t, console.String(), "late")
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "2000-01-01.log")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	handler := newAsyncHandler(dir, slog.LevelInfo, 24*time.Hour, &syncBuffer{})
	defer handler.Close()

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelFatal, ParseLevel("fatal"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("unknown"))
}
