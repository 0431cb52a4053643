package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"peoplewatch/internal/pipeline"
)

// SnapshotSource polls a camera's still-image endpoint
type SnapshotSource struct {
	url         string
	client      *http.Client
	interval    time.Duration
	maxFrames   uint64
	maxFailures int
	logger      *slog.Logger
	ticker      *time.Ticker
	seq         uint64
}

// NewSnapshotSource creates a poller for url. One frame is fetched per
// tick; MaxFrames > 0 ends the stream after that many frames.
func NewSnapshotSource(url string, opts Options) *SnapshotSource {
	opts = opts.withDefaults()
	interval := opts.PollInterval
	if interval <= 0 && opts.FPS > 0 {
		interval = time.Second / time.Duration(opts.FPS)
	}
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &SnapshotSource{
		url:         url,
		client:      &http.Client{Timeout: 10 * time.Second},
		interval:    interval,
		maxFrames:   opts.MaxFrames,
		maxFailures: opts.MaxFailures,
		logger:      opts.Logger.With("component", "snapshot", "url", url),
	}
}

// Next waits for the next tick and fetches a frame. Failed fetches are
// retried on the following ticks up to MaxFailures in a row.
func (s *SnapshotSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	if s.maxFrames > 0 && s.seq >= s.maxFrames {
		return nil, pipeline.ErrSourceExhausted
	}

	failures := 0
	for {
		if s.ticker == nil {
			// First frame is fetched immediately
			s.ticker = time.NewTicker(s.interval)
		} else {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.ticker.C:
			}
		}

		frame, err := s.fetch(ctx)
		if err == nil {
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		failures++
		s.logger.Warn("error fetching frame", "error", err, "failures", failures)
		if failures >= s.maxFailures {
			return nil, fmt.Errorf("giving up after %d failed fetches: %w", failures, err)
		}
	}
}

func (s *SnapshotSource) fetch(ctx context.Context) (*pipeline.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	s.seq++
	frame := &pipeline.Frame{Seq: s.seq, Timestamp: time.Now(), Image: img}
	if format == "jpeg" {
		frame.Data = data
	}
	return frame, nil
}

func (s *SnapshotSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.client.CloseIdleConnections()
	return nil
}

var _ pipeline.FrameSource = (*SnapshotSource)(nil)
