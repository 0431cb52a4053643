package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntervalControllerStartsAtBootstrap(t *testing.T) {
	c := NewIntervalController(DefaultSchedulerConfig())
	assert.Equal(t, 10, c.Interval())
	assert.Equal(t, "adaptive", c.Name())
}

func TestIntervalControllerHysteresis(t *testing.T) {
	const threshold ChangeScore = 500000

	tests := []struct {
		name        string
		score       ChangeScore
		wantNext    int
		wantChanged bool
	}{
		{"zero score is stable", 0, 20, false},
		{"below threshold is stable", 499999, 20, false},
		{"equal to threshold is stable", 500000, 20, false},
		{"one above threshold is a change", 500001, 5, true},
		{"far above threshold is a change", 10_000_000, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewIntervalController(DefaultSchedulerConfig())
			next, changed := c.Update(tt.score, threshold)
			assert.Equal(t, tt.wantNext, next)
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantNext, c.Interval())
		})
	}
}

func TestIntervalControllerStaysWithinTiers(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	c := NewIntervalController(cfg)
	tiers := map[int]bool{cfg.BootstrapInterval: true, cfg.FastInterval: true, cfg.SlowInterval: true}

	scores := []ChangeScore{0, 900000, 12, 500000, 500001, 3, 7_000_000}
	for _, s := range scores {
		next, _ := c.Update(s, cfg.ChangeThreshold)
		assert.True(t, tiers[next], "interval %d is not a configured tier", next)
	}

	c.Reset()
	assert.Equal(t, cfg.BootstrapInterval, c.Interval())
}

func TestIntervalControllerCustomTiers(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.BootstrapInterval, cfg.FastInterval, cfg.SlowInterval = 7, 2, 30
	c := NewIntervalController(cfg)

	assert.Equal(t, 7, c.Interval())
	next, changed := c.Update(10, 5)
	assert.Equal(t, 2, next)
	assert.True(t, changed)
	next, changed = c.Update(5, 5)
	assert.Equal(t, 30, next)
	assert.False(t, changed)
}
