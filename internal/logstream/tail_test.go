package logstream

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendLine(path string, text string) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(text)
}

func TestTailMissingFile(t *testing.T) {
	_, err := Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), time.Millisecond)
	assert.ErrorIs(t, err, ErrLogFileNotFound)
}

func TestTailFollowsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("old line\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lines, err := Tail(ctx, path, 5*time.Millisecond)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		appendLine(path, "first\nsec")
		time.Sleep(20 * time.Millisecond)
		appendLine(path, "ond\n")
	}()

	var received []string
	for line := range lines {
		received = append(received, line)
		if len(received) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"first", "second"}, received)
}

func TestTailStopsWhenContextIsCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	lines, err := Tail(ctx, path, 5*time.Millisecond)
	require.NoError(t, err)

	done := make(chan int)
	go func() {
		count := 0
		for range lines {
			count++
		}
		done <- count
	}()
	cancel()
	select {
	case count := <-done:
		assert.Zero(t, count)
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not stop after cancellation")
	}
}

func TestNewLoggerAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, closeLogger, err := NewLogger(path)
	require.NoError(t, err)
	logger.Info("briefing served")
	require.NoError(t, closeLogger())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(contents), `"msg":"briefing served"`))
}
