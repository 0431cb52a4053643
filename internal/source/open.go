package source

import (
	"fmt"
	_ "image/jpeg"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"peoplewatch/internal/pipeline"
)

// Options configures frame sources
type Options struct {
	FPS          int           // Capture rate; 0 keeps the native rate
	Width        int           // V4L2 capture size
	Height       int
	PollInterval time.Duration // Snapshot polling period, overrides FPS
	MaxFrames    uint64        // Snapshot sources stop after this many frames (0 = never)
	MaxFailures  int           // Consecutive snapshot failures tolerated
	FFmpegPath   string
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Kind names the source implementation Open picks for an input
type Kind string

const (
	KindDirectory Kind = "directory"
	KindSnapshot  Kind = "snapshot"
	KindFFmpeg    Kind = "ffmpeg"
)

// Classify decides how input is read
func Classify(input string) Kind {
	if info, err := os.Stat(input); err == nil && info.IsDir() {
		return KindDirectory
	}
	if isSnapshotURL(input) {
		return KindSnapshot
	}
	return KindFFmpeg
}

// Open returns a frame source for a file path, directory, device or URL
func Open(input string, opts Options) (pipeline.FrameSource, error) {
	if input == "" {
		return nil, fmt.Errorf("input is required")
	}

	switch Classify(input) {
	case KindDirectory:
		return NewDirSource(input)
	case KindSnapshot:
		return NewSnapshotSource(input, opts), nil
	default:
		if !strings.Contains(input, "://") && !strings.HasPrefix(input, "/dev/") {
			if _, err := os.Stat(input); err != nil {
				return nil, fmt.Errorf("failed to open input: %w", err)
			}
		}
		return NewFFmpegSource(input, opts)
	}
}

func isSnapshotURL(input string) bool {
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return false
	}
	p := input
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return strings.Contains(p, "snapshot")
}
