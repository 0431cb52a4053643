package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

func grayFrame(seq uint64, w, h int, value uint8) *Frame {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return &Frame{Seq: seq, Timestamp: time.Unix(int64(seq), 0), Image: img}
}

// sliceSource hands out a fixed list of frames, then ErrSourceExhausted
type sliceSource struct {
	frames []*Frame
	next   int
	onNext func(i int)
	closed bool
}

func (s *sliceSource) Next(ctx context.Context) (*Frame, error) {
	if s.next >= len(s.frames) {
		return nil, ErrSourceExhausted
	}
	i := s.next
	s.next++
	if s.onNext != nil {
		s.onNext(i)
	}
	return s.frames[i], nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// scriptedDetector returns boxes from a function of the call index
type scriptedDetector struct {
	calls  []uint64
	detect func(call int, frame *Frame) ([]BoundingBox, error)
}

func (d *scriptedDetector) Name() string { return "scripted" }

func (d *scriptedDetector) Detect(ctx context.Context, frame *Frame) ([]BoundingBox, error) {
	call := len(d.calls)
	d.calls = append(d.calls, frame.Seq)
	if d.detect == nil {
		return nil, nil
	}
	return d.detect(call, frame)
}

func (d *scriptedDetector) Close() error { return nil }

func fixedBoxes(boxes ...BoundingBox) func(int, *Frame) ([]BoundingBox, error) {
	return func(int, *Frame) ([]BoundingBox, error) {
		return boxes, nil
	}
}

// shiftTracker moves its box one pixel right per update and fails when
// lose returns true for the initial box and the update number.
type shiftTracker struct {
	box     BoundingBox
	initial BoundingBox
	updates int
	lose    func(initial BoundingBox, update int) bool
	initErr error
	mu      sync.Mutex
}

func (t *shiftTracker) Init(frame *Frame, box BoundingBox) error {
	t.box = box
	t.initial = box
	return t.initErr
}

func (t *shiftTracker) Update(frame *Frame) (BoundingBox, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates++
	if t.lose != nil && t.lose(t.initial, t.updates) {
		return BoundingBox{}, false
	}
	t.box.X++
	return t.box, true
}

func shiftTrackers(lose func(BoundingBox, int) bool) TrackerFactory {
	return func() Tracker {
		return &shiftTracker{lose: lose}
	}
}

var errDetectorDown = errors.New("detector unavailable")
