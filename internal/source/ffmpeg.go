package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"peoplewatch/internal/pipeline"
)

// FFmpegSource decodes any input ffmpeg understands (files, RTSP, HTTP
// streams, V4L2 devices) into an MJPEG pipe
type FFmpegSource struct {
	*MJPEGReader
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stderrDone chan struct{}
	logger     *slog.Logger

	waitOnce sync.Once
	waitErr  error
	reported bool // Next already returned the exit error

	closeOnce sync.Once
	closeErr  error
}

// NewFFmpegSource starts ffmpeg for input. The process lives until Close.
func NewFFmpegSource(input string, opts Options) (*FFmpegSource, error) {
	opts = opts.withDefaults()
	args := ffmpegArgs(input, opts)

	cmd := exec.Command(opts.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	logger := opts.Logger.With("component", "ffmpeg", "input", input)
	logger.Info("capture started", "args", strings.Join(args, " "))

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Warn(scanner.Text())
		}
	}()

	return &FFmpegSource{
		MJPEGReader: NewMJPEGReader(stdout),
		cmd:         cmd,
		stdout:      stdout,
		stderrDone:  stderrDone,
		logger:      logger,
	}, nil
}

// Next returns the next frame. The stream ends with ErrSourceExhausted
// only when ffmpeg exits cleanly; any other exit is returned as an error.
func (s *FFmpegSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	frame, err := s.MJPEGReader.Next(ctx)
	if !errors.Is(err, pipeline.ErrSourceExhausted) {
		return frame, err
	}
	if werr := s.wait(); werr != nil {
		s.reported = true
		return nil, fmt.Errorf("ffmpeg exited: %w", werr)
	}
	return nil, err
}

// wait reaps ffmpeg once stderr is drained. Safe to call more than once.
func (s *FFmpegSource) wait() error {
	s.waitOnce.Do(func() {
		<-s.stderrDone
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// Close stops ffmpeg and reaps it
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.stdout.Close()
		if err := s.wait(); err != nil && !isKilled(err) && !s.reported {
			s.closeErr = fmt.Errorf("ffmpeg exited: %w", err)
		}
		s.logger.Info("capture stopped", "skipped_frames", s.Skipped())
	})
	return s.closeErr
}

func isKilled(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	return ok && !exitErr.Exited()
}

// ffmpegArgs builds the command line that turns input into an MJPEG pipe on stdout
func ffmpegArgs(input string, opts Options) []string {
	var args []string

	switch {
	case strings.HasPrefix(input, "rtsp://"):
		args = []string{"-rtsp_transport", "tcp", "-i", input}
	case strings.HasPrefix(input, "/dev/video"):
		args = []string{"-f", "v4l2"}
		if opts.Width > 0 && opts.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height))
		}
		if opts.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(opts.FPS))
		}
		args = append(args, "-i", input)
	default:
		// Files and HTTP streams
		args = []string{"-i", input}
	}

	args = append(args, "-an", "-f", "image2pipe", "-vcodec", "mjpeg")
	// Files keep every frame unless a rate is requested
	if opts.FPS > 0 && !strings.HasPrefix(input, "/dev/video") {
		args = append(args, "-r", strconv.Itoa(opts.FPS))
	}
	args = append(args, "-q:v", "5", "-")

	return append([]string{"-hide_banner", "-loglevel", "error"}, args...)
}

var _ pipeline.FrameSource = (*FFmpegSource)(nil)
