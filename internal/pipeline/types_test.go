package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerOverridesMergeWith(t *testing.T) {
	fast := 3
	policy := PolicyFixed
	merged := (&SchedulerOverrides{FastInterval: &fast, Policy: &policy}).MergeWith(nil)

	assert.Equal(t, 3, merged.FastInterval)
	assert.Equal(t, PolicyFixed, merged.Policy)
	assert.Equal(t, 20, merged.SlowInterval)
	assert.Equal(t, ChangeScore(500000), merged.ChangeThreshold)

	base := DefaultSchedulerConfig()
	var none *SchedulerOverrides
	assert.Equal(t, base, none.MergeWith(base))
	assert.NotSame(t, base, none.MergeWith(base))
}

func TestSchedulerConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultSchedulerConfig().Validate())

	bad := DefaultSchedulerConfig()
	bad.Policy = "pid"
	assert.Error(t, bad.Validate())

	bad = DefaultSchedulerConfig()
	bad.SlowInterval = -1
	assert.Error(t, bad.Validate())

	bad = DefaultSchedulerConfig()
	bad.TrackWorkers = 0
	assert.Error(t, bad.Validate())
}

func TestBoundingBoxHelpers(t *testing.T) {
	b := BoundingBox{X: -5, Y: 10, Width: 20, Height: 20}
	assert.Equal(t, "(-5, 10, 20, 20)", b.String())
	assert.Equal(t, 400, b.Area())

	clamped := b.Clamp(BoundingBox{0, 0, 100, 100}.Rect())
	assert.Equal(t, BoundingBox{0, 10, 15, 20}, clamped)
	assert.True(t, BoundingBox{1, 1, 0, 5}.Empty())
}

func TestStateText(t *testing.T) {
	for _, s := range []State{StateBootstrap, StateDetecting, StateTracking} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("idle")))
	assert.Equal(t, "state(9)", State(9).String())
}
