package pipeline

import (
	"sync"
)

// IntervalController picks the detect interval from the latest change score.
// It is a two-tier hysteresis: a scene change selects the fast tier, a stable
// scene the slow tier. Until the first comparison the bootstrap value holds.
type IntervalController struct {
	bootstrap int
	fast      int
	slow      int
	current   int
	mu        sync.Mutex
}

// NewIntervalController creates an adaptive interval policy from config
func NewIntervalController(config *SchedulerConfig) *IntervalController {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &IntervalController{
		bootstrap: config.BootstrapInterval,
		fast:      config.FastInterval,
		slow:      config.SlowInterval,
		current:   config.BootstrapInterval,
	}
}

func (c *IntervalController) Name() string {
	return string(PolicyAdaptive)
}

func (c *IntervalController) Interval() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Update applies the hysteresis rule. A score equal to the threshold is not a change.
func (c *IntervalController) Update(score, threshold ChangeScore) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if score > threshold {
		c.current = c.fast
		return c.current, true
	}
	c.current = c.slow
	return c.current, false
}

func (c *IntervalController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.bootstrap
}

var _ IntervalPolicy = (*IntervalController)(nil)
