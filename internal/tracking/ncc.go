// Package tracking implements single-object trackers for the tracker pool.
package tracking

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"

	"peoplewatch/internal/pipeline"
)

// ErrEmptyTemplate is returned when the initial box has no pixels inside the frame
var ErrEmptyTemplate = errors.New("tracking box does not overlap the frame")

// Config tunes the correlation tracker
type Config struct {
	SearchRadius int     // Max displacement in pixels between two frames
	MinScore     float64 // Correlation below this counts as lost
	MaxSamples   int     // Template samples per side; larger boxes are subsampled
	LearningRate float64 // Template blend factor after each successful update
}

// DefaultConfig returns tracker defaults
func DefaultConfig() Config {
	return Config{
		SearchRadius: 16,
		MinScore:     0.5,
		MaxSamples:   32,
		LearningRate: 0.1,
	}
}

// NCCTracker follows one box by normalized cross-correlation of a grayscale
// template over a square search window around the last position
type NCCTracker struct {
	cfg      Config
	box      pipeline.BoundingBox
	bounds   image.Rectangle
	offsets  []image.Point
	template []float64 // Zero-mean samples
	mean     float64
	norm     float64
	patch    []float64
}

// NewNCCTracker creates an uninitialized tracker
func NewNCCTracker(cfg Config) *NCCTracker {
	def := DefaultConfig()
	if cfg.SearchRadius <= 0 {
		cfg.SearchRadius = def.SearchRadius
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.MinScore <= 0 || cfg.MinScore > 1 {
		cfg.MinScore = def.MinScore
	}
	if cfg.LearningRate < 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = def.LearningRate
	}
	return &NCCTracker{cfg: cfg}
}

// Factory returns a pipeline.TrackerFactory minting NCC trackers with cfg
func Factory(cfg Config) pipeline.TrackerFactory {
	return func() pipeline.Tracker {
		return NewNCCTracker(cfg)
	}
}

// Init captures the template under box
func (t *NCCTracker) Init(frame *pipeline.Frame, box pipeline.BoundingBox) error {
	gray := pipeline.Luminance(frame.Image)
	t.bounds = gray.Bounds()

	origin := frame.Bounds().Min
	local := pipeline.BoundingBox{X: box.X - origin.X, Y: box.Y - origin.Y, Width: box.Width, Height: box.Height}
	clipped := local.Clamp(t.bounds)
	if clipped.Empty() {
		return fmt.Errorf("%w: %s", ErrEmptyTemplate, box)
	}

	t.box = clipped
	t.offsets = sampleOffsets(clipped.Width, clipped.Height, t.cfg.MaxSamples)
	t.template = make([]float64, len(t.offsets))
	t.patch = make([]float64, len(t.offsets))
	t.sample(gray, clipped.X, clipped.Y, t.template)
	t.mean, t.norm = center(t.template)
	return nil
}

// Update searches the neighbourhood of the last position in frame
func (t *NCCTracker) Update(frame *pipeline.Frame) (pipeline.BoundingBox, bool) {
	if t.template == nil {
		return pipeline.BoundingBox{}, false
	}
	gray := pipeline.Luminance(frame.Image)
	if gray.Bounds() != t.bounds {
		return pipeline.BoundingBox{}, false
	}

	r := t.cfg.SearchRadius
	bestScore := math.Inf(-1)
	bestX, bestY := 0, 0
	found := false

	for y := t.box.Y - r; y <= t.box.Y+r; y++ {
		if y < 0 || y+t.box.Height > t.bounds.Dy() {
			continue
		}
		for x := t.box.X - r; x <= t.box.X+r; x++ {
			if x < 0 || x+t.box.Width > t.bounds.Dx() {
				continue
			}
			t.sample(gray, x, y, t.patch)
			score := t.score(t.patch)
			// Ties go to the smaller displacement
			if score > bestScore || (score == bestScore && displacement(x-t.box.X, y-t.box.Y) < displacement(bestX-t.box.X, bestY-t.box.Y)) {
				bestScore, bestX, bestY = score, x, y
				found = true
			}
		}
	}

	if !found || bestScore < t.cfg.MinScore {
		return pipeline.BoundingBox{}, false
	}

	t.box.X, t.box.Y = bestX, bestY
	t.adapt(gray)

	origin := frame.Bounds().Min
	return pipeline.BoundingBox{X: t.box.X + origin.X, Y: t.box.Y + origin.Y, Width: t.box.Width, Height: t.box.Height}, true
}

func (t *NCCTracker) sample(gray *image.Gray, x, y int, dst []float64) {
	for i, o := range t.offsets {
		dst[i] = float64(gray.Pix[(y+o.Y)*gray.Stride+x+o.X])
	}
}

// score is the correlation of the zero-mean template with patch in [-1, 1].
// Textureless regions fall back to brightness similarity.
func (t *NCCTracker) score(patch []float64) float64 {
	pm := floats.Sum(patch) / float64(len(patch))
	floats.AddConst(-pm, patch)
	pn := floats.Norm(patch, 2)

	if t.norm < 1e-9 || pn < 1e-9 {
		if t.norm < 1e-9 && pn < 1e-9 {
			return 1 - math.Abs(t.mean-pm)/255
		}
		return 0
	}
	return floats.Dot(t.template, patch) / (t.norm * pn)
}

// adapt blends the patch at the new position into the template
func (t *NCCTracker) adapt(gray *image.Gray) {
	lr := t.cfg.LearningRate
	if lr == 0 {
		return
	}
	t.sample(gray, t.box.X, t.box.Y, t.patch)
	floats.AddConst(-floats.Sum(t.patch)/float64(len(t.patch)), t.patch)
	floats.Scale(1-lr, t.template)
	floats.AddScaled(t.template, lr, t.patch)
	t.norm = floats.Norm(t.template, 2)
}

func sampleOffsets(w, h, maxSamples int) []image.Point {
	step := int(math.Ceil(float64(max(w, h)) / float64(maxSamples)))
	if step < 1 {
		step = 1
	}
	offsets := make([]image.Point, 0, (w/step+1)*(h/step+1))
	for y := 0; y < h; y += step {
		for x := 0; x < w; x += step {
			offsets = append(offsets, image.Pt(x, y))
		}
	}
	return offsets
}

func center(v []float64) (mean, norm float64) {
	mean = floats.Sum(v) / float64(len(v))
	floats.AddConst(-mean, v)
	return mean, floats.Norm(v, 2)
}

func displacement(dx, dy int) int {
	return dx*dx + dy*dy
}

var _ pipeline.Tracker = (*NCCTracker)(nil)
