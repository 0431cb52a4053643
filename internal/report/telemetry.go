// Package report keeps recent controller telemetry and renders it as an
// HTML chart.
package report

import (
	"sync"
	"time"

	"peoplewatch/internal/pipeline"
)

// DefaultCapacity is the number of frames kept by NewTelemetry
const DefaultCapacity = 5000

// Sample is the controller's view of one frame
type Sample struct {
	Frame     uint64         `json:"frame"`
	Timestamp time.Time      `json:"timestamp"`
	State     pipeline.State `json:"state"`
	Score     uint64         `json:"score"`
	Changed   bool           `json:"changed"`
	Interval  int            `json:"interval"`
	Boxes     int            `json:"boxes"`
}

// Telemetry is a fixed-size ring of the most recent samples
type Telemetry struct {
	mu        sync.RWMutex
	samples   []Sample
	next      int
	full      bool
	threshold pipeline.ChangeScore
	total     uint64
}

// NewTelemetry keeps the last capacity frames. threshold is drawn as a
// reference line on the score chart.
func NewTelemetry(capacity int, threshold pipeline.ChangeScore) *Telemetry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Telemetry{
		samples:   make([]Sample, capacity),
		threshold: threshold,
	}
}

// OnFrameResult implements pipeline.ResultHandler
func (t *Telemetry) OnFrameResult(result *pipeline.FrameResult) {
	if result == nil {
		return
	}
	t.Add(Sample{
		Frame:     result.FrameCount,
		Timestamp: result.Timestamp,
		State:     result.State,
		Score:     uint64(result.Score),
		Changed:   result.Changed,
		Interval:  result.Interval,
		Boxes:     len(result.Boxes),
	})
}

// Add appends a sample, evicting the oldest when full
func (t *Telemetry) Add(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.next] = s
	t.next++
	t.total++
	if t.next == len(t.samples) {
		t.next = 0
		t.full = true
	}
}

// Samples returns the retained samples, oldest first
func (t *Telemetry) Samples() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.full {
		out := make([]Sample, t.next)
		copy(out, t.samples[:t.next])
		return out
	}

	out := make([]Sample, 0, len(t.samples))
	out = append(out, t.samples[t.next:]...)
	return append(out, t.samples[:t.next]...)
}

// Total returns how many samples were ever added
func (t *Telemetry) Total() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// Threshold returns the change threshold drawn on the chart
func (t *Telemetry) Threshold() pipeline.ChangeScore {
	return t.threshold
}

var _ pipeline.ResultHandler = (*Telemetry)(nil)
