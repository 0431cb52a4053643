package detectors

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"peoplewatch/internal/detection"
	"peoplewatch/internal/pipeline"
)

const (
	NameHTTP   = "http"
	NameGRPC   = "grpc"
	NameMotion = "motion"
)

// PersonClient is the client side of a remote inference service
type PersonClient interface {
	DetectPersons(ctx context.Context, imageData []byte, confThreshold float32) (*detection.DetectionResult, error)
	IsHealthy(ctx context.Context) bool
	Close() error
}

// RemoteAdapter wraps a PersonClient to implement pipeline.Detector
type RemoteAdapter struct {
	name          string
	client        PersonClient
	confThreshold float32
}

// NewRemoteAdapter creates a detector backed by client
func NewRemoteAdapter(name string, client PersonClient, confThreshold float32) *RemoteAdapter {
	if confThreshold <= 0 {
		confThreshold = 0.5
	}
	return &RemoteAdapter{
		name:          name,
		client:        client,
		confThreshold: confThreshold,
	}
}

func newHTTP(opts Options) (pipeline.Detector, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	client := detection.NewHTTPDetector(opts.Endpoint, opts.Timeout, opts.Logger)
	return NewRemoteAdapter(NameHTTP, client, opts.ConfThreshold), nil
}

func newGRPC(opts Options) (pipeline.Detector, error) {
	client, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
		Endpoint: opts.Endpoint,
		Timeout:  opts.Timeout,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return NewRemoteAdapter(NameGRPC, client, opts.ConfThreshold), nil
}

func (a *RemoteAdapter) Name() string {
	return a.name
}

func (a *RemoteAdapter) IsHealthy(ctx context.Context) bool {
	return a.client != nil && a.client.IsHealthy(ctx)
}

// Detect sends the frame's JPEG (encoding one if the source had none) and
// keeps confident person boxes clipped to the frame
func (a *RemoteAdapter) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.BoundingBox, error) {
	if a.client == nil {
		return nil, fmt.Errorf("%s detector not configured", a.name)
	}

	data := frame.Data
	if len(data) == 0 {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("failed to encode frame: %w", err)
		}
		data = buf.Bytes()
	}

	result, err := a.client.DetectPersons(ctx, data, a.confThreshold)
	if err != nil {
		return nil, err
	}

	return toBoxes(result.Persons(a.confThreshold), frame.Bounds()), nil
}

func (a *RemoteAdapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// toBoxes converts [x1, y1, x2, y2] detections into pixel boxes inside bounds
func toBoxes(persons []detection.Detection, bounds image.Rectangle) []pipeline.BoundingBox {
	boxes := make([]pipeline.BoundingBox, 0, len(persons))
	for _, p := range persons {
		r := image.Rect(
			int(math.Floor(float64(p.BBox[0]))),
			int(math.Floor(float64(p.BBox[1]))),
			int(math.Ceil(float64(p.BBox[2]))),
			int(math.Ceil(float64(p.BBox[3]))),
		).Intersect(bounds)
		if r.Empty() {
			continue
		}
		boxes = append(boxes, pipeline.BoxFromRect(r))
	}
	return boxes
}

var (
	_ pipeline.Detector      = (*RemoteAdapter)(nil)
	_ pipeline.HealthChecker = (*RemoteAdapter)(nil)
	_ PersonClient           = (*detection.HTTPDetector)(nil)
	_ PersonClient           = (*detection.GRPCDetector)(nil)
)
