package strategies

import (
	"peoplewatch/internal/pipeline"
)

// ContinuousStrategy detects on every frame. Trackers are reseeded each
// frame and never advanced, which makes it a baseline for comparing cost.
type ContinuousStrategy struct{}

// NewContinuousStrategy creates a continuous detection policy
func NewContinuousStrategy() *ContinuousStrategy {
	return &ContinuousStrategy{}
}

func (s *ContinuousStrategy) Name() string {
	return string(pipeline.PolicyContinuous)
}

func (s *ContinuousStrategy) Interval() int {
	return 1
}

func (s *ContinuousStrategy) Update(score, threshold pipeline.ChangeScore) (int, bool) {
	return 1, score > threshold
}

func (s *ContinuousStrategy) Reset() {}

var _ pipeline.IntervalPolicy = (*ContinuousStrategy)(nil)
