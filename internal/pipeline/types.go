package pipeline

import (
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
)

// State is the orchestrator's per-frame mode
type State int

const (
	// StateBootstrap - no previous frame has been seen yet
	StateBootstrap State = iota
	// StateDetecting - the frame runs the detector and reseeds the tracker pool
	StateDetecting
	// StateTracking - the frame advances the existing trackers
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateBootstrap:
		return "bootstrap"
	case StateDetecting:
		return "detecting"
	case StateTracking:
		return "tracking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "bootstrap":
		*s = StateBootstrap
	case "detecting":
		*s = StateDetecting
	case "tracking":
		*s = StateTracking
	default:
		return fmt.Errorf("unknown state %q", string(text))
	}
	return nil
}

// BoxSource tells a consumer whether a box came from a detection or a tracking pass
type BoxSource string

const (
	BoxSourceDetected BoxSource = "detected"
	BoxSourceTracked  BoxSource = "tracked"
)

// Frame is one decoded video frame. Frames are never mutated after a source
// hands them out.
type Frame struct {
	Seq       uint64      // Source sequence number
	Timestamp time.Time   // Capture or decode time
	Image     image.Image // Decoded pixels
	Data      []byte      // Encoded JPEG, when the source had one
}

// Bounds returns the pixel bounds of the frame
func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// BoundingBox is an axis-aligned rectangle in pixel coordinates
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// BoxFromRect converts an image rectangle into a bounding box
func BoxFromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect converts the box into an image rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Area returns width*height
func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// Empty reports whether the box covers no pixels
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Clamp restricts the box to the given bounds
func (b BoundingBox) Clamp(bounds image.Rectangle) BoundingBox {
	return BoxFromRect(b.Rect().Intersect(bounds))
}

// String formats the box the way it is drawn next to a person: (x, y, w, h)
func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", b.X, b.Y, b.Width, b.Height)
}

// TrackedBox is a box paired with the identity of the tracked object producing it
type TrackedBox struct {
	ID  uuid.UUID
	Box BoundingBox
}

// OutputBox is one per-frame output record
type OutputBox struct {
	ID     string      `json:"id,omitempty"`
	Box    BoundingBox `json:"box"`
	Source BoxSource   `json:"source"`
}

// FrameResult is published once per processed frame, in frame order
type FrameResult struct {
	Seq        uint64      `json:"seq"`
	FrameCount uint64      `json:"frame_count"`
	Timestamp  time.Time   `json:"timestamp"`
	State      State       `json:"state"`
	Bootstrap  bool        `json:"bootstrap"` // First frame, no comparison made
	Score      ChangeScore `json:"score"`
	Changed    bool        `json:"changed"`
	Interval   int         `json:"interval"`
	Boxes      []OutputBox `json:"boxes"`
	Frame      *Frame      `json:"-"`
}

// PolicyName selects the interval policy
type PolicyName string

const (
	// PolicyAdaptive - fast/slow interval tiers driven by scene change
	PolicyAdaptive PolicyName = "adaptive"
	// PolicyFixed - interval never leaves its bootstrap value
	PolicyFixed PolicyName = "fixed"
	// PolicyContinuous - detect on every frame
	PolicyContinuous PolicyName = "continuous"
)

// SchedulerConfig contains the tuning constants of the detect/track loop
type SchedulerConfig struct {
	Policy             PolicyName  `json:"policy"`
	BootstrapInterval  int         `json:"bootstrap_interval"`   // Interval before the first comparison
	FastInterval       int         `json:"fast_interval"`        // Interval after a scene change
	SlowInterval       int         `json:"slow_interval"`        // Interval during a stable scene
	ChangeThreshold    ChangeScore `json:"change_threshold"`     // Score above which the scene changed
	PixelDiffThreshold uint8       `json:"pixel_diff_threshold"` // Per-pixel luminance delta that counts as changed
	TrackWorkers       int         `json:"track_workers"`        // Concurrent tracker updates per frame
}

// DefaultSchedulerConfig returns the empirically tuned defaults
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Policy:             PolicyAdaptive,
		BootstrapInterval:  10,
		FastInterval:       5,
		SlowInterval:       20,
		ChangeThreshold:    500000,
		PixelDiffThreshold: DefaultPixelDiffThreshold,
		TrackWorkers:       1,
	}
}

// Validate checks that every interval is positive and the policy is known
func (c *SchedulerConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("scheduler config is nil")
	}
	switch c.Policy {
	case PolicyAdaptive, PolicyFixed, PolicyContinuous:
	default:
		return fmt.Errorf("unknown interval policy: %q", c.Policy)
	}
	if c.BootstrapInterval <= 0 || c.FastInterval <= 0 || c.SlowInterval <= 0 {
		return fmt.Errorf("intervals must be positive (bootstrap=%d fast=%d slow=%d)",
			c.BootstrapInterval, c.FastInterval, c.SlowInterval)
	}
	if c.PixelDiffThreshold == 255 {
		return fmt.Errorf("pixel diff threshold 255 can never be exceeded")
	}
	if c.TrackWorkers < 1 {
		return fmt.Errorf("track workers must be at least 1, got %d", c.TrackWorkers)
	}
	return nil
}

// SchedulerOverrides holds optional overrides. Nil values mean "keep the base value".
type SchedulerOverrides struct {
	Policy             *PolicyName  `json:"policy,omitempty"`
	BootstrapInterval  *int         `json:"bootstrap_interval,omitempty"`
	FastInterval       *int         `json:"fast_interval,omitempty"`
	SlowInterval       *int         `json:"slow_interval,omitempty"`
	ChangeThreshold    *ChangeScore `json:"change_threshold,omitempty"`
	PixelDiffThreshold *uint8       `json:"pixel_diff_threshold,omitempty"`
	TrackWorkers       *int         `json:"track_workers,omitempty"`
}

// MergeWith applies the overrides on top of base and returns a new config
func (o *SchedulerOverrides) MergeWith(base *SchedulerConfig) *SchedulerConfig {
	if base == nil {
		base = DefaultSchedulerConfig()
	}
	merged := *base

	if o == nil {
		return &merged
	}

	if o.Policy != nil {
		merged.Policy = *o.Policy
	}
	if o.BootstrapInterval != nil {
		merged.BootstrapInterval = *o.BootstrapInterval
	}
	if o.FastInterval != nil {
		merged.FastInterval = *o.FastInterval
	}
	if o.SlowInterval != nil {
		merged.SlowInterval = *o.SlowInterval
	}
	if o.ChangeThreshold != nil {
		merged.ChangeThreshold = *o.ChangeThreshold
	}
	if o.PixelDiffThreshold != nil {
		merged.PixelDiffThreshold = *o.PixelDiffThreshold
	}
	if o.TrackWorkers != nil {
		merged.TrackWorkers = *o.TrackWorkers
	}

	return &merged
}
