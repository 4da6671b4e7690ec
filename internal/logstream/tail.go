// Package logstream writes the application log to a file and follows it.
package logstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"time"
)

// DefaultPollInterval is how often Tail checks for new lines.
const DefaultPollInterval = 100 * time.Millisecond

// ErrLogFileNotFound indicates the log file does not exist.
var ErrLogFileNotFound = errors.New("logstream.file_not_found")

// Tail opens path positioned at its end and returns a sequence of lines
// appended afterwards. The sequence ends when ctx is done or the consumer stops.
func Tail(ctx context.Context, path string, interval time.Duration) (iter.Seq[string], error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrLogFileNotFound, path)
		}
		return nil, fmt.Errorf("logstream.open: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("logstream.seek: %w", err)
	}

	return func(yield func(string) bool) {
		defer file.Close()
		reader := bufio.NewReader(file)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var pending strings.Builder
		for {
			chunk, readErr := reader.ReadString('\n')
			pending.WriteString(chunk)
			if readErr == nil {
				line := strings.TrimRight(pending.String(), "\r\n")
				pending.Reset()
				if !yield(line) {
					return
				}
				continue
			}
			if !errors.Is(readErr, io.EOF) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}, nil
}
