package source

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peoplewatch/internal/pipeline"
)

func writePNG(t *testing.T, path string, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 6, 4))
	img.SetGray(0, 0, color.Gray{Y: v})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDirSourceReplaysInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame_002.png"), 2)
	writePNG(t, filepath.Join(dir, "frame_001.png"), 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame_000.jpg"), encodeJPEG(t, 6, 4, 0), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))

	src, err := NewDirSource(dir)
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, 3, src.Len())

	ctx := context.Background()
	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Seq)
	assert.NotEmpty(t, first.Data, "jpeg bytes are kept for re-use")

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Data)
	r, _, _, _ := second.Image.At(0, 0).RGBA()
	assert.Equal(t, uint32(0x0101), r)

	_, err = src.Next(ctx)
	require.NoError(t, err)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, pipeline.ErrSourceExhausted)
}

func TestDirSourceErrors(t *testing.T) {
	_, err := NewDirSource(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = NewDirSource(t.TempDir())
	assert.ErrorContains(t, err, "no images")
}

func TestSnapshotSourceFetchesFrames(t *testing.T) {
	var hits atomic.Int32
	jpg := encodeJPEG(t, 10, 10, 77)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpg)
	}))
	defer server.Close()

	src := NewSnapshotSource(server.URL+"/snapshot.jpg", Options{PollInterval: 100 * time.Millisecond, MaxFrames: 2})
	defer src.Close()

	ctx := context.Background()
	for i := uint64(1); i <= 2; i++ {
		frame, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, frame.Seq)
		assert.Equal(t, jpg, frame.Data)
	}
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, pipeline.ErrSourceExhausted)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSnapshotSourceGivesUpAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camera offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := NewSnapshotSource(server.URL, Options{PollInterval: 100 * time.Millisecond, MaxFailures: 2})
	defer src.Close()

	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "2 failed fetches")
	assert.ErrorContains(t, err, "503")
}

func TestSnapshotSourceCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	src := NewSnapshotSource(server.URL, Options{PollInterval: time.Hour, MaxFailures: 10})
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, KindDirectory, Classify(dir))
	assert.Equal(t, KindSnapshot, Classify("http://cam.local/snapshot.jpg"))
	assert.Equal(t, KindSnapshot, Classify("https://cam.local/cgi-bin/snapshot.cgi?chan=1"))
	assert.Equal(t, KindFFmpeg, Classify("http://cam.local/video.mjpg"))
	assert.Equal(t, KindFFmpeg, Classify("rtsp://cam.local/stream1"))
	assert.Equal(t, KindFFmpeg, Classify("/dev/video0"))
	assert.Equal(t, KindFFmpeg, Classify("clip.mp4"))
}

func TestOpenRejectsMissingInputs(t *testing.T) {
	_, err := Open("", Options{})
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.mp4"), Options{})
	assert.ErrorContains(t, err, "failed to open input")
}

func TestOpenDirectory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 0)

	src, err := Open(dir, Options{})
	require.NoError(t, err)
	defer src.Close()
	assert.IsType(t, &DirSource{}, src)
}

func TestFFmpegArgs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  Options
		want  []string
	}{
		{
			name:  "file keeps native rate",
			input: "clip.mp4",
			want: []string{"-hide_banner", "-loglevel", "error",
				"-i", "clip.mp4", "-an", "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"},
		},
		{
			name:  "rtsp over tcp with rate",
			input: "rtsp://cam/stream",
			opts:  Options{FPS: 15},
			want: []string{"-hide_banner", "-loglevel", "error",
				"-rtsp_transport", "tcp", "-i", "rtsp://cam/stream",
				"-an", "-f", "image2pipe", "-vcodec", "mjpeg", "-r", "15", "-q:v", "5", "-"},
		},
		{
			name:  "v4l2 device",
			input: "/dev/video0",
			opts:  Options{FPS: 30, Width: 640, Height: 480},
			want: []string{"-hide_banner", "-loglevel", "error",
				"-f", "v4l2", "-video_size", "640x480", "-framerate", "30", "-i", "/dev/video0",
				"-an", "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ffmpegArgs(tt.input, tt.opts))
		})
	}
}

func TestFFmpegSourceFailedExitIsAnError(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	src, err := NewFFmpegSource("/no/such/video.mp4", Options{FFmpegPath: "false"})
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, pipeline.ErrSourceExhausted)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())

	_, err = src.Next(context.Background())
	assert.ErrorAs(t, err, &exitErr, "the exit error sticks")
	assert.NoError(t, src.Close(), "already reported by Next")
}

func TestFFmpegSourceCleanExitExhausts(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	src, err := NewFFmpegSource("clip.mp4", Options{FFmpegPath: "true"})
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrSourceExhausted)
	assert.NoError(t, src.Close())
}
