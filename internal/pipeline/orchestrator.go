package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StopReason explains why Run returned without error
type StopReason string

const (
	StopExhausted StopReason = "exhausted"
	StopCancelled StopReason = "cancelled"
	StopFailed    StopReason = "failed"
)

// Stats contains live counters of a run
type Stats struct {
	Frames          uint64      `json:"frames"`
	DetectionPasses uint64      `json:"detection_passes"`
	TrackingPasses  uint64      `json:"tracking_passes"`
	SceneChanges    uint64      `json:"scene_changes"`
	TrackersDropped uint64      `json:"trackers_dropped"`
	ActiveTrackers  int         `json:"active_trackers"`
	Interval        int         `json:"interval"`
	LastScore       ChangeScore `json:"last_score"`
	State           State       `json:"state"`
	Policy          string      `json:"policy"`
	Detector        string      `json:"detector"`
	AvgDetectMs     float64     `json:"avg_detect_ms"`
	AvgTrackMs      float64     `json:"avg_track_ms"`
	LastFrameTime   time.Time   `json:"last_frame_time"`
}

// RunSummary is returned by Run
type RunSummary struct {
	Stats
	Reason StopReason `json:"reason"`
}

// Orchestrator drives the detect-or-track loop for one stream. Frame
// counting, the previous frame and the interval are owned here and nowhere else.
type Orchestrator struct {
	source   FrameSource
	detector Detector
	pool     *TrackerPool
	policy   IntervalPolicy
	config   *SchedulerConfig
	eventBus *EventBus
	logger   *slog.Logger

	prev       *Frame
	frameCount uint64

	detectTotal time.Duration
	trackTotal  time.Duration

	stats   Stats
	statsMu sync.RWMutex
}

// OrchestratorOption customizes an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithPolicy replaces the adaptive interval policy
func WithPolicy(policy IntervalPolicy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.policy = policy
	}
}

// WithEventBus publishes every frame result on bus
func WithEventBus(bus *EventBus) OrchestratorOption {
	return func(o *Orchestrator) {
		o.eventBus = bus
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator wires a source, a detector and a tracker factory into a loop
func NewOrchestrator(source FrameSource, detector Detector, trackers TrackerFactory, config *SchedulerConfig, opts ...OrchestratorOption) (*Orchestrator, error) {
	if source == nil {
		return nil, fmt.Errorf("frame source is required")
	}
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if trackers == nil {
		return nil, fmt.Errorf("tracker factory is required")
	}
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	o := &Orchestrator{
		source:   source,
		detector: detector,
		config:   config,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "orchestrator")
	if o.policy == nil {
		o.policy = NewIntervalController(config)
	}
	o.pool = NewTrackerPool(trackers, config.TrackWorkers, o.logger)

	o.stats = Stats{
		State:    StateBootstrap,
		Interval: o.policy.Interval(),
		Policy:   o.policy.Name(),
		Detector: detector.Name(),
	}
	return o, nil
}

// decideState is the transition rule: detect when the interval divides the
// frame count or nothing is left to track.
func decideState(frameCount uint64, interval int, poolSize int) State {
	if poolSize == 0 {
		return StateDetecting
	}
	if interval > 0 && frameCount%uint64(interval) == 0 {
		return StateDetecting
	}
	return StateTracking
}

// Run processes frames until the source is exhausted or ctx is cancelled.
// Cancellation is only observed between frames: the frame in flight runs to
// completion on a context the stop request does not cancel. Shape mismatches
// and detection failures abort the run and are returned.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	o.policy.Reset()
	stepCtx := context.WithoutCancel(ctx)

	o.logger.Info("run started", "policy", o.policy.Name(), "detector", o.detector.Name(),
		"bootstrap_interval", o.config.BootstrapInterval, "threshold", uint64(o.config.ChangeThreshold))

	for {
		if err := ctx.Err(); err != nil {
			return o.finish(StopCancelled), nil
		}

		frame, err := o.source.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrSourceExhausted) {
				return o.finish(StopExhausted), nil
			}
			if ctx.Err() != nil {
				return o.finish(StopCancelled), nil
			}
			return o.summary(StopFailed), fmt.Errorf("failed to read frame %d: %w", o.frameCount+1, err)
		}

		if _, err := o.Step(stepCtx, frame); err != nil {
			return o.summary(StopFailed), err
		}
	}
}

// Step processes a single frame and publishes its result
func (o *Orchestrator) Step(ctx context.Context, frame *Frame) (*FrameResult, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("frame %d has no image", o.frameCount+1)
	}

	frameCount := o.frameCount + 1
	result := &FrameResult{
		Seq:        frame.Seq,
		FrameCount: frameCount,
		Timestamp:  frame.Timestamp,
		Frame:      frame,
	}

	if o.prev == nil {
		result.Bootstrap = true
	} else {
		score, err := EstimateChange(o.prev, frame, o.config.PixelDiffThreshold)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", frameCount, err)
		}
		_, changed := o.policy.Update(score, o.config.ChangeThreshold)
		result.Score = score
		result.Changed = changed
		if changed {
			o.logger.Info("scene change detected", "frame", frameCount, "difference", uint64(score))
		}
	}
	result.Interval = o.policy.Interval()
	result.State = decideState(frameCount, result.Interval, o.pool.Size())

	var elapsed time.Duration
	switch result.State {
	case StateDetecting:
		start := time.Now()
		boxes, err := o.detector.Detect(ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", frameCount, detectionFailure(o.detector.Name(), err))
		}
		tracked := o.pool.Reseed(frame, boxes)
		elapsed = time.Since(start)
		result.Boxes = toOutput(tracked, BoxSourceDetected)
	case StateTracking:
		start := time.Now()
		tracked := o.pool.Advance(frame)
		elapsed = time.Since(start)
		result.Boxes = toOutput(tracked, BoxSourceTracked)
	}

	// The frame is retained as-is; nothing downstream mutates it
	o.prev = frame
	o.frameCount = frameCount

	o.updateStats(result, elapsed)

	if o.eventBus != nil {
		o.eventBus.Publish(result)
	}
	return result, nil
}

// State returns the mode of the last processed frame, or StateBootstrap before the first
func (o *Orchestrator) State() State {
	o.statsMu.RLock()
	defer o.statsMu.RUnlock()
	return o.stats.State
}

// Stats returns a copy of the live counters. Safe for concurrent use.
func (o *Orchestrator) Stats() *Stats {
	o.statsMu.RLock()
	defer o.statsMu.RUnlock()
	stats := o.stats
	return &stats
}

// Close releases the source and the detector
func (o *Orchestrator) Close() error {
	var errs []error
	if err := o.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close source: %w", err))
	}
	if err := o.detector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close detector: %w", err))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) updateStats(result *FrameResult, elapsed time.Duration) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()

	o.stats.Frames = result.FrameCount
	switch result.State {
	case StateDetecting:
		o.stats.DetectionPasses++
		o.detectTotal += elapsed
		o.stats.AvgDetectMs = float64(o.detectTotal.Microseconds()) / 1000 / float64(o.stats.DetectionPasses)
	case StateTracking:
		o.stats.TrackingPasses++
		o.trackTotal += elapsed
		o.stats.AvgTrackMs = float64(o.trackTotal.Microseconds()) / 1000 / float64(o.stats.TrackingPasses)
	}
	if result.Changed {
		o.stats.SceneChanges++
	}
	o.stats.TrackersDropped = o.pool.Dropped()
	o.stats.ActiveTrackers = o.pool.Size()
	o.stats.Interval = result.Interval
	o.stats.LastScore = result.Score
	o.stats.State = result.State
	o.stats.LastFrameTime = time.Now()
}

func (o *Orchestrator) finish(reason StopReason) *RunSummary {
	summary := o.summary(reason)
	o.logger.Info("run finished", "reason", reason, "frames", summary.Frames,
		"detection_passes", summary.DetectionPasses, "tracking_passes", summary.TrackingPasses,
		"scene_changes", summary.SceneChanges)
	return summary
}

func (o *Orchestrator) summary(reason StopReason) *RunSummary {
	return &RunSummary{Stats: *o.Stats(), Reason: reason}
}

func toOutput(tracked []TrackedBox, source BoxSource) []OutputBox {
	out := make([]OutputBox, 0, len(tracked))
	for _, t := range tracked {
		out = append(out, OutputBox{ID: t.ID.String(), Box: t.Box, Source: source})
	}
	return out
}

var _ StatsProvider = (*Orchestrator)(nil)
