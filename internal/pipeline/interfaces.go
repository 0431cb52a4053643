package pipeline

import (
	"context"
)

// FrameSource yields decoded frames in delivery order
type FrameSource interface {
	// Next blocks until the next frame is available. It returns
	// ErrSourceExhausted once the stream has ended.
	Next(ctx context.Context) (*Frame, error)

	// Close releases the underlying stream
	Close() error
}

// Detector finds humans in a full frame
type Detector interface {
	// Name returns the detector identifier (e.g., "http", "grpc", "motion")
	Name() string

	// Detect returns zero or more person boxes. An empty slice is a valid
	// observation; an error means the pass itself failed.
	Detect(ctx context.Context, frame *Frame) ([]BoundingBox, error)

	// Close releases detector resources
	Close() error
}

// HealthChecker is implemented by detectors backed by a remote service
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// Tracker follows a single object from frame to frame
type Tracker interface {
	// Init anchors the tracker on box in frame
	Init(frame *Frame, box BoundingBox) error

	// Update locates the object in the next frame. ok=false means the
	// object was lost.
	Update(frame *Frame) (box BoundingBox, ok bool)
}

// TrackerFactory mints a fresh tracker for every tracked object
type TrackerFactory func() Tracker

// IntervalPolicy decides how many frames pass between detection passes
type IntervalPolicy interface {
	// Name returns the policy identifier
	Name() string

	// Interval returns the current detect interval
	Interval() int

	// Update feeds the latest change score and returns the next interval
	// and whether the frame counts as a scene change
	Update(score, threshold ChangeScore) (next int, changed bool)

	// Reset restores the bootstrap interval
	Reset()
}

// ResultHandler receives per-frame results
type ResultHandler interface {
	// OnFrameResult is called synchronously, in frame order
	OnFrameResult(result *FrameResult)
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(result *FrameResult)

// OnFrameResult implements ResultHandler
func (f ResultHandlerFunc) OnFrameResult(result *FrameResult) {
	f(result)
}

// StatsProvider exposes live counters to other goroutines
type StatsProvider interface {
	Stats() *Stats
}
