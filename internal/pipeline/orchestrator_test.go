package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(bus *EventBus) *[]*FrameResult {
	var results []*FrameResult
	bus.Subscribe(ResultHandlerFunc(func(r *FrameResult) {
		results = append(results, r)
	}))
	return &results
}

func newTestOrchestrator(t *testing.T, src FrameSource, det Detector, trackers TrackerFactory, cfg *SchedulerConfig) (*Orchestrator, *[]*FrameResult) {
	t.Helper()
	bus := NewEventBus()
	results := collect(bus)
	o, err := NewOrchestrator(src, det, trackers, cfg, WithEventBus(bus))
	require.NoError(t, err)
	return o, results
}

func TestDecideState(t *testing.T) {
	tests := []struct {
		name       string
		frameCount uint64
		interval   int
		poolSize   int
		want       State
	}{
		{"empty pool forces detection", 3, 10, 0, StateDetecting},
		{"interval divides frame count", 20, 20, 2, StateDetecting},
		{"between detections", 7, 10, 1, StateTracking},
		{"fast tier", 15, 5, 4, StateDetecting},
		{"first frame with bootstrap interval", 1, 10, 0, StateDetecting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decideState(tt.frameCount, tt.interval, tt.poolSize))
		})
	}
}

func TestOrchestratorThreeIdenticalFrames(t *testing.T) {
	src := &sliceSource{frames: []*Frame{
		grayFrame(1, 40, 30, 80), grayFrame(2, 40, 30, 80), grayFrame(3, 40, 30, 80),
	}}
	det := &scriptedDetector{detect: fixedBoxes(BoundingBox{5, 5, 10, 10})}
	o, results := newTestOrchestrator(t, src, det, shiftTrackers(nil), DefaultSchedulerConfig())

	assert.Equal(t, StateBootstrap, o.State())

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopExhausted, summary.Reason)
	require.Len(t, *results, 3)

	first := (*results)[0]
	assert.True(t, first.Bootstrap)
	assert.Equal(t, StateDetecting, first.State)
	assert.Equal(t, 10, first.Interval)
	assert.Equal(t, []OutputBox{{ID: first.Boxes[0].ID, Box: BoundingBox{5, 5, 10, 10}, Source: BoxSourceDetected}}, first.Boxes)

	for _, r := range (*results)[1:] {
		assert.False(t, r.Bootstrap)
		assert.Equal(t, StateTracking, r.State)
		assert.Equal(t, ChangeScore(0), r.Score)
		assert.False(t, r.Changed)
		assert.Equal(t, 20, r.Interval)
		require.Len(t, r.Boxes, 1)
		assert.Equal(t, BoxSourceTracked, r.Boxes[0].Source)
		assert.Equal(t, first.Boxes[0].ID, r.Boxes[0].ID)
	}
	assert.Equal(t, 6, (*results)[1].Boxes[0].Box.X)
	assert.Equal(t, 7, (*results)[2].Boxes[0].Box.X)
	assert.Len(t, det.calls, 1)
}

func TestOrchestratorDetectsOnIntervalModulus(t *testing.T) {
	var frames []*Frame
	for i := 1; i <= 21; i++ {
		frames = append(frames, grayFrame(uint64(i), 16, 16, 50))
	}
	src := &sliceSource{frames: frames}
	det := &scriptedDetector{detect: fixedBoxes(BoundingBox{1, 1, 4, 4})}
	o, results := newTestOrchestrator(t, src, det, shiftTrackers(nil), DefaultSchedulerConfig())

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, *results, 21)

	for _, r := range *results {
		switch r.FrameCount {
		case 1, 20:
			assert.Equal(t, StateDetecting, r.State, "frame %d", r.FrameCount)
		default:
			assert.Equal(t, StateTracking, r.State, "frame %d", r.FrameCount)
		}
	}
	assert.Equal(t, []uint64{1, 20}, det.calls)

	stats := o.Stats()
	assert.Equal(t, uint64(21), stats.Frames)
	assert.Equal(t, uint64(2), stats.DetectionPasses)
	assert.Equal(t, uint64(19), stats.TrackingPasses)
	assert.Equal(t, uint64(0), stats.SceneChanges)
}

func TestOrchestratorReseedThenPartialLoss(t *testing.T) {
	src := &sliceSource{frames: []*Frame{grayFrame(1, 100, 100, 0), grayFrame(2, 100, 100, 0)}}
	det := &scriptedDetector{detect: fixedBoxes(BoundingBox{10, 10, 20, 20}, BoundingBox{50, 50, 30, 30})}
	loseSecond := func(initial BoundingBox, _ int) bool { return initial.X == 50 }
	o, results := newTestOrchestrator(t, src, det, shiftTrackers(loseSecond), DefaultSchedulerConfig())

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, *results, 2)

	detected := (*results)[0]
	require.Len(t, detected.Boxes, 2)

	tracked := (*results)[1]
	assert.Equal(t, StateTracking, tracked.State)
	require.Len(t, tracked.Boxes, 1)
	assert.Equal(t, detected.Boxes[0].ID, tracked.Boxes[0].ID)
	assert.Equal(t, BoundingBox{11, 10, 20, 20}, tracked.Boxes[0].Box)
	assert.Equal(t, uint64(1), o.Stats().TrackersDropped)
}

func TestOrchestratorSceneChangeSelectsFastTier(t *testing.T) {
	// Frames 1-5 alternate black and white, frame 6 repeats frame 5
	var frames []*Frame
	for i := 1; i <= 5; i++ {
		frames = append(frames, grayFrame(uint64(i), 100, 100, uint8((i+1)%2*255)))
	}
	frames = append(frames, grayFrame(6, 100, 100, 0))
	src := &sliceSource{frames: frames}
	det := &scriptedDetector{detect: fixedBoxes(BoundingBox{1, 1, 4, 4})}
	o, results := newTestOrchestrator(t, src, det, shiftTrackers(nil), DefaultSchedulerConfig())

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, *results, 6)

	change := (*results)[1]
	assert.True(t, change.Changed)
	assert.Equal(t, ChangeScore(100*100*255), change.Score)
	assert.Equal(t, 5, change.Interval)
	assert.Equal(t, StateTracking, change.State)

	assert.Equal(t, StateDetecting, (*results)[4].State, "frame 5 is a multiple of the fast tier")
	assert.False(t, (*results)[5].Changed)
	assert.Equal(t, 20, (*results)[5].Interval, "stable scene falls back to the slow tier")
	assert.Equal(t, uint64(4), o.Stats().SceneChanges)
}

func TestOrchestratorEmptyPoolForcesDetection(t *testing.T) {
	var frames []*Frame
	for i := 1; i <= 5; i++ {
		frames = append(frames, grayFrame(uint64(i), 8, 8, 0))
	}
	src := &sliceSource{frames: frames}
	det := &scriptedDetector{} // never finds anyone
	o, results := newTestOrchestrator(t, src, det, shiftTrackers(nil), DefaultSchedulerConfig())

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	for _, r := range *results {
		assert.Equal(t, StateDetecting, r.State)
		assert.Empty(t, r.Boxes)
	}
	assert.Len(t, det.calls, 5)
}

func TestOrchestratorNeverTracksAnEmptyPool(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var frames []*Frame
	for i := 1; i <= 300; i++ {
		frames = append(frames, grayFrame(uint64(i), 20, 20, uint8(rng.Intn(2)*200)))
	}
	det := &scriptedDetector{detect: func(int, *Frame) ([]BoundingBox, error) {
		n := rng.Intn(4)
		boxes := make([]BoundingBox, n)
		for i := range boxes {
			boxes[i] = BoundingBox{X: i, Y: i, Width: 2, Height: 2}
		}
		return boxes, nil
	}}
	lose := func(BoundingBox, int) bool { return rng.Intn(5) == 0 }
	cfg := DefaultSchedulerConfig()
	cfg.ChangeThreshold = 1000

	o, results := newTestOrchestrator(t, &sliceSource{frames: frames}, det, shiftTrackers(lose), cfg)
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, *results, 300)

	poolSize := 0
	for _, r := range *results {
		if poolSize == 0 {
			assert.Equal(t, StateDetecting, r.State, "frame %d ran tracking with an empty pool", r.FrameCount)
		}
		if r.State == StateTracking {
			assert.LessOrEqual(t, len(r.Boxes), poolSize)
		}
		poolSize = len(r.Boxes)
	}
}

func TestOrchestratorDetectionFailureAborts(t *testing.T) {
	src := &sliceSource{frames: []*Frame{grayFrame(1, 8, 8, 0), grayFrame(2, 8, 8, 0)}}
	det := &scriptedDetector{detect: func(int, *Frame) ([]BoundingBox, error) {
		return nil, errDetectorDown
	}}
	o, results := newTestOrchestrator(t, src, det, shiftTrackers(nil), DefaultSchedulerConfig())

	summary, err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDetectionFailed))
	assert.True(t, errors.Is(err, errDetectorDown))
	assert.Equal(t, StopFailed, summary.Reason)
	assert.Empty(t, *results, "a failed frame publishes nothing")
	assert.Equal(t, 1, src.next, "no further frames are read")
}

func TestOrchestratorShapeMismatchAborts(t *testing.T) {
	src := &sliceSource{frames: []*Frame{grayFrame(1, 8, 8, 0), grayFrame(2, 16, 8, 0), grayFrame(3, 16, 8, 0)}}
	det := &scriptedDetector{detect: fixedBoxes(BoundingBox{0, 0, 2, 2})}
	o, results := newTestOrchestrator(t, src, det, shiftTrackers(nil), DefaultSchedulerConfig())

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.Contains(t, err.Error(), "frame 2")
	assert.Len(t, *results, 1)
}

func TestOrchestratorCancellationAtFrameBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var frames []*Frame
	for i := 1; i <= 10; i++ {
		frames = append(frames, grayFrame(uint64(i), 8, 8, 0))
	}
	src := &sliceSource{frames: frames, onNext: func(i int) {
		if i == 3 {
			cancel()
		}
	}}
	det := &scriptedDetector{detect: fixedBoxes(BoundingBox{0, 0, 2, 2})}
	o, results := newTestOrchestrator(t, src, det, shiftTrackers(nil), DefaultSchedulerConfig())

	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, summary.Reason)
	assert.Len(t, *results, 4, "the in-flight frame completes before stopping")
	assert.Equal(t, uint64(4), summary.Frames)
}

// ctxDetector honours its context, the way a remote detector does
type ctxDetector struct {
	during func()
	calls  int
}

func (d *ctxDetector) Name() string { return "ctx" }

func (d *ctxDetector) Detect(ctx context.Context, frame *Frame) ([]BoundingBox, error) {
	d.calls++
	if d.during != nil {
		d.during()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []BoundingBox{{0, 0, 2, 2}}, nil
}

func (d *ctxDetector) Close() error { return nil }

func TestOrchestratorStopDuringDetectionFinishesFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &sliceSource{frames: []*Frame{
		grayFrame(1, 8, 8, 0),
		grayFrame(2, 8, 8, 0),
		grayFrame(3, 8, 8, 0),
	}}
	det := &ctxDetector{during: cancel}
	o, results := newTestOrchestrator(t, src, det, shiftTrackers(nil), DefaultSchedulerConfig())

	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, summary.Reason)
	assert.Equal(t, uint64(1), summary.Frames)
	assert.Equal(t, 1, det.calls)
	require.Len(t, *results, 1)
	assert.Len(t, (*results)[0].Boxes, 1)
}

func TestOrchestratorRunResetsPolicy(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	policy := NewIntervalController(cfg)
	policy.Update(cfg.ChangeThreshold+1, cfg.ChangeThreshold)
	require.Equal(t, cfg.FastInterval, policy.Interval())

	src := &sliceSource{}
	o, err := NewOrchestrator(src, &scriptedDetector{}, shiftTrackers(nil), cfg, WithPolicy(policy))
	require.NoError(t, err)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopExhausted, summary.Reason)
	assert.Equal(t, cfg.BootstrapInterval, policy.Interval())
}

func TestOrchestratorRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.FastInterval = 0
	_, err := NewOrchestrator(&sliceSource{}, &scriptedDetector{}, shiftTrackers(nil), cfg)
	require.Error(t, err)

	_, err = NewOrchestrator(nil, &scriptedDetector{}, shiftTrackers(nil), nil)
	require.Error(t, err)
}

func TestOrchestratorCloseReleasesSource(t *testing.T) {
	src := &sliceSource{}
	o, err := NewOrchestrator(src, &scriptedDetector{}, shiftTrackers(nil), nil)
	require.NoError(t, err)
	require.NoError(t, o.Close())
	assert.True(t, src.closed)
}
