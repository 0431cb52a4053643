package ws

import (
	"time"

	"peoplewatch/internal/pipeline"
)

// BoxMessage is broadcast once per processed frame
type BoxMessage struct {
	Type        string      `json:"type"` // "boxes"
	Frame       uint64      `json:"frame"`
	Seq         uint64      `json:"seq"`
	Timestamp   time.Time   `json:"timestamp"`
	State       string      `json:"state"`
	Interval    int         `json:"interval"`
	Score       uint64      `json:"score"`
	Changed     bool        `json:"changed,omitempty"`
	FrameWidth  int         `json:"frame_width,omitempty"`
	FrameHeight int         `json:"frame_height,omitempty"`
	Objects     []BoxObject `json:"objects"`
}

// BoxObject is one human on a frame
type BoxObject struct {
	ID     string `json:"id,omitempty"`
	BBox   []int  `json:"bbox"`   // [x, y, w, h] in pixels
	Source string `json:"source"` // "detected" or "tracked"
}

// StatusMessage announces the end of a run
type StatusMessage struct {
	Type      string    `json:"type"` // "status"
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Frames    uint64    `json:"frames"`
}

// NewBoxMessage converts a frame result into its wire form
func NewBoxMessage(result *pipeline.FrameResult) *BoxMessage {
	msg := &BoxMessage{
		Type:      "boxes",
		Frame:     result.FrameCount,
		Seq:       result.Seq,
		Timestamp: result.Timestamp,
		State:     result.State.String(),
		Interval:  result.Interval,
		Score:     uint64(result.Score),
		Changed:   result.Changed,
		Objects:   make([]BoxObject, 0, len(result.Boxes)),
	}
	if result.Frame != nil && result.Frame.Image != nil {
		b := result.Frame.Bounds()
		msg.FrameWidth, msg.FrameHeight = b.Dx(), b.Dy()
	}
	for _, b := range result.Boxes {
		msg.AddObject(b.ID, b.Box, string(b.Source))
	}
	return msg
}

// AddObject appends a box to the message
func (m *BoxMessage) AddObject(id string, box pipeline.BoundingBox, source string) {
	m.Objects = append(m.Objects, BoxObject{
		ID:     id,
		BBox:   []int{box.X, box.Y, box.Width, box.Height},
		Source: source,
	})
}

// NewStatusMessage creates a run status message
func NewStatusMessage(summary *pipeline.RunSummary) *StatusMessage {
	return &StatusMessage{
		Type:      "status",
		Timestamp: time.Now(),
		Reason:    string(summary.Reason),
		Frames:    summary.Frames,
	}
}
