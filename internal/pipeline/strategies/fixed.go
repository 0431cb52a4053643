package strategies

import "peoplewatch/internal/pipeline"

// FixedStrategy keeps one detect interval regardless of scene change.
// Scene changes are still reported so they show up in logs and stats.
type FixedStrategy struct {
	interval int
}

// NewFixedStrategy creates a fixed-interval policy
func NewFixedStrategy(interval int) *FixedStrategy {
	if interval <= 0 {
		interval = 10
	}
	return &FixedStrategy{
		interval: interval,
	}
}

func (s *FixedStrategy) Name() string {
	return string(pipeline.PolicyFixed)
}

func (s *FixedStrategy) Interval() int {
	return s.interval
}

func (s *FixedStrategy) Update(score, threshold pipeline.ChangeScore) (int, bool) {
	return s.interval, score > threshold
}

func (s *FixedStrategy) Reset() {}

var _ pipeline.IntervalPolicy = (*FixedStrategy)(nil)
