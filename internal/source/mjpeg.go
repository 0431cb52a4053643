// Package source provides frame sources: MJPEG pipes from ffmpeg, image
// directories and HTTP snapshot endpoints.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"sync/atomic"
	"time"

	"peoplewatch/internal/pipeline"
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// MJPEGReader splits a concatenated JPEG byte stream into frames
type MJPEGReader struct {
	r        io.Reader
	buffer   []byte
	chunk    []byte
	frameSeq atomic.Uint64
	skipped  atomic.Uint64 // Corrupt frames dropped from the stream
	eof      bool
}

// NewMJPEGReader reads JPEG frames from r
func NewMJPEGReader(r io.Reader) *MJPEGReader {
	return &MJPEGReader{
		r:      r,
		buffer: make([]byte, 0, 1024*1024),
		chunk:  make([]byte, 64*1024),
	}
}

// Next returns the next decoded frame. ctx is checked between reads; a
// blocked read is only interrupted by closing the underlying stream.
func (m *MJPEGReader) Next(ctx context.Context) (*pipeline.Frame, error) {
	for {
		if data := extractJPEGFrame(&m.buffer); data != nil {
			frame, err := m.decode(data)
			if err != nil {
				m.skipped.Add(1)
				continue
			}
			return frame, nil
		}
		if m.eof {
			return nil, pipeline.ErrSourceExhausted
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := m.r.Read(m.chunk)
		m.buffer = append(m.buffer, m.chunk[:n]...)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("failed to read stream: %w", err)
			}
			m.eof = true
		}
	}
}

func (m *MJPEGReader) decode(data []byte) (*pipeline.Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &pipeline.Frame{
		Seq:       m.frameSeq.Add(1),
		Timestamp: time.Now(),
		Image:     img,
		Data:      data,
	}, nil
}

// Skipped returns how many undecodable frames were dropped
func (m *MJPEGReader) Skipped() uint64 {
	return m.skipped.Load()
}

// Close is a no-op; the owner of the reader closes the stream
func (m *MJPEGReader) Close() error {
	return nil
}

// extractJPEGFrame removes and returns the first complete JPEG in buffer.
// Bytes before the start marker are discarded.
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	startIdx := bytes.Index(*buffer, jpegStart)
	if startIdx == -1 {
		// Keep a trailing 0xFF that may begin the next marker
		if (*buffer)[len(*buffer)-1] == 0xFF {
			*buffer = append((*buffer)[:0], 0xFF)
		} else {
			*buffer = (*buffer)[:0]
		}
		return nil
	}

	endRel := bytes.Index((*buffer)[startIdx+2:], jpegEnd)
	if endRel == -1 {
		if startIdx > 0 {
			*buffer = append((*buffer)[:0], (*buffer)[startIdx:]...)
		}
		return nil
	}
	endIdx := startIdx + 2 + endRel + 2

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = append((*buffer)[:0], (*buffer)[endIdx:]...)

	return frame
}

var _ pipeline.FrameSource = (*MJPEGReader)(nil)
