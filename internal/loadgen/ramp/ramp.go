// Package ramp computes the target number of concurrent workers over time.
//
// A Controller is a pure function of elapsed time: it walks an ordered list
// of stages and linearly interpolates from the previous target to the
// current stage's target. Starting and stopping workers is left to the
// caller, which polls TargetAt.
//
// Example stages:
//
//	startVUs: 1
//	stages:
//	  - duration: 2m
//	    target: 20     # Ramp from 1 to 20 workers over 2m
//	  - duration: 10m
//	    target: 20     # Hold 20 workers for 10 minutes
//	  - duration: 2m
//	    target: 0      # Ramp down to 0 workers over 2m
package ramp

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is matched by every error returned from New.
var ErrInvalidConfig = errors.New("invalid ramp configuration")

// ConfigError describes a malformed start value or stage.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: field '%s': %s", ErrInvalidConfig, e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Stage moves the target from the previous value to Target over Duration.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target worker count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Phase describes the direction of the ramp at a point in time.
type Phase string

const (
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Controller answers "how many workers should be live right now".
//
// Controller is immutable after New and safe for concurrent use.
type Controller struct {
	start  int
	stages []Stage
	total  time.Duration
}

// New validates the schedule and returns a Controller.
//
// The start value is the worker count before the first stage and the
// origin of the first stage's interpolation.
func New(start int, stages []Stage) (*Controller, error) {
	if start < 0 {
		return nil, &ConfigError{Field: "startVUs", Message: fmt.Sprintf("must be >= 0, got %d", start)}
	}

	var total time.Duration
	for i, stage := range stages {
		if stage.Duration < 0 {
			return nil, &ConfigError{
				Field:   fmt.Sprintf("stages[%d].duration", i),
				Message: fmt.Sprintf("must be >= 0, got %s", stage.Duration),
			}
		}
		if stage.Target < 0 {
			return nil, &ConfigError{
				Field:   fmt.Sprintf("stages[%d].target", i),
				Message: fmt.Sprintf("must be >= 0, got %d", stage.Target),
			}
		}
		total += stage.Duration
	}

	copied := make([]Stage, len(stages))
	copy(copied, stages)

	return &Controller{start: start, stages: copied, total: total}, nil
}

// Start returns the configured start value.
func (c *Controller) Start() int {
	return c.start
}

// Stages returns a copy of the stage list.
func (c *Controller) Stages() []Stage {
	out := make([]Stage, len(c.stages))
	copy(out, c.stages)
	return out
}

// TotalDuration is the sum of all stage durations.
func (c *Controller) TotalDuration() time.Duration {
	return c.total
}

// TargetAt returns the target worker count at elapsed time since start.
func (c *Controller) TargetAt(elapsed time.Duration) int {
	if elapsed < 0 || len(c.stages) == 0 {
		return c.start
	}

	var stageStart time.Duration
	prevTarget := c.start

	for _, stage := range c.stages {
		stageEnd := stageStart + stage.Duration

		// Zero-length stages never match here, so they act as a step.
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return c.stages[len(c.stages)-1].Target
}

// StageAt returns the index of the stage active at elapsed. ok is false
// before the first stage and after the last one.
func (c *Controller) StageAt(elapsed time.Duration) (index int, ok bool) {
	if elapsed < 0 {
		return 0, false
	}

	var stageStart time.Duration
	for i, stage := range c.stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			return i, true
		}
		stageStart = stageEnd
	}
	return len(c.stages), false
}

// PhaseAt classifies the ramp direction at elapsed.
func (c *Controller) PhaseAt(elapsed time.Duration) Phase {
	idx, ok := c.StageAt(elapsed)
	if !ok {
		if elapsed < 0 {
			return PhaseSteady
		}
		return PhaseDone
	}

	prevTarget := c.start
	if idx > 0 {
		prevTarget = c.stages[idx-1].Target
	}

	switch target := c.stages[idx].Target; {
	case target > prevTarget:
		return PhaseRampUp
	case target < prevTarget:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}

// MaxTarget returns the highest worker count the schedule reaches.
func (c *Controller) MaxTarget() int {
	highest := c.start
	for _, stage := range c.stages {
		if stage.Target > highest {
			highest = stage.Target
		}
	}
	return highest
}
