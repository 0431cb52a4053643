package detectors

import (
	"context"

	"peoplewatch/internal/motion"
	"peoplewatch/internal/pipeline"
)

// MotionAdapter treats upright moving blobs as people. It needs no
// inference service, so it works offline.
type MotionAdapter struct {
	blobs *motion.BlobDetector
}

// NewMotionAdapter creates a motion-based detector
func NewMotionAdapter(cfg motion.Config) *MotionAdapter {
	return &MotionAdapter{blobs: motion.NewBlobDetector(cfg)}
}

func newMotion(opts Options) (pipeline.Detector, error) {
	cfg := opts.Motion
	if cfg == (motion.Config{}) {
		cfg = motion.DefaultConfig()
	}
	return NewMotionAdapter(cfg), nil
}

func (a *MotionAdapter) Name() string {
	return NameMotion
}

func (a *MotionAdapter) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.BoundingBox, error) {
	rects := a.blobs.Detect(frame.Image)
	boxes := make([]pipeline.BoundingBox, 0, len(rects))
	for _, r := range rects {
		boxes = append(boxes, pipeline.BoxFromRect(r))
	}
	return boxes, nil
}

func (a *MotionAdapter) Close() error {
	a.blobs.Reset()
	return nil
}

var _ pipeline.Detector = (*MotionAdapter)(nil)
