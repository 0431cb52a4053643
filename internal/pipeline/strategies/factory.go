package strategies

import (
	"fmt"

	"peoplewatch/internal/pipeline"
)

// Create builds the interval policy named by config.Policy
func Create(config *pipeline.SchedulerConfig) (pipeline.IntervalPolicy, error) {
	if config == nil {
		config = pipeline.DefaultSchedulerConfig()
	}

	switch config.Policy {
	case pipeline.PolicyAdaptive, "":
		return pipeline.NewIntervalController(config), nil

	case pipeline.PolicyFixed:
		return NewFixedStrategy(config.BootstrapInterval), nil

	case pipeline.PolicyContinuous:
		return NewContinuousStrategy(), nil

	default:
		return nil, fmt.Errorf("unknown interval policy: %s", config.Policy)
	}
}

// Names lists the policies Create understands
func Names() []string {
	return []string{
		string(pipeline.PolicyAdaptive),
		string(pipeline.PolicyFixed),
		string(pipeline.PolicyContinuous),
	}
}
