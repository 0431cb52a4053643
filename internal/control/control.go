// Package control turns operator input into a stop request.
package control

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
)

// WatchQuit reads lines from r and calls stop when a line is "q" or
// "quit". It returns when ctx is done, r ends, or stop has been called.
func WatchQuit(ctx context.Context, r io.Reader, stop context.CancelFunc, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "q", "quit":
				logger.Info("stop requested from keyboard")
				stop()
				return
			}
		}
	}
}
