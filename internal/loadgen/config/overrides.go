package config

import (
	"time"

	"github.com/olympisai/trafficgen/internal/loadgen"
)

// Overrides are command-line values that replace file or profile values.
// Nil fields leave the configuration untouched.
type Overrides struct {
	BaseURL            *string
	Scenario           *string
	StartVUs           *int
	Stages             []StageConfig
	Duration           *time.Duration
	GracefulStop       *time.Duration
	Seed               *int64
	Timeout            *time.Duration
	Headers            map[string]string
	UserAgent          *string
	InsecureSkipVerify *bool
	ValidateResponse   *bool
	TrackJob           *bool
	CreateProbability  *float64
	ChecksThreshold    *float64
	MetricsAddr        *string
}

// Apply copies every set override into c.
func (c *Config) Apply(o Overrides) {
	if o.BaseURL != nil {
		c.BaseURL = *o.BaseURL
	}
	if o.Scenario != nil {
		c.Scenario = loadgen.ScenarioKind(*o.Scenario)
	}
	if o.StartVUs != nil {
		c.StartVUs = *o.StartVUs
	}
	if o.Stages != nil {
		c.Stages = append([]StageConfig(nil), o.Stages...)
	}
	if o.Duration != nil {
		c.Duration = Duration(*o.Duration)
	}
	if o.GracefulStop != nil {
		c.GracefulStop = Duration(*o.GracefulStop)
	}
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.Timeout != nil {
		c.Timeout = Duration(*o.Timeout)
	}
	if len(o.Headers) > 0 {
		if c.Headers == nil {
			c.Headers = make(map[string]string, len(o.Headers))
		}
		for k, v := range o.Headers {
			c.Headers[k] = v
		}
	}
	if o.UserAgent != nil {
		c.UserAgent = *o.UserAgent
	}
	if o.InsecureSkipVerify != nil {
		c.InsecureSkipVerify = *o.InsecureSkipVerify
	}
	if o.ValidateResponse != nil {
		c.ValidateResponse = *o.ValidateResponse
	}
	if o.TrackJob != nil {
		c.TrackJob = *o.TrackJob
	}
	if o.CreateProbability != nil {
		p := *o.CreateProbability
		c.CreateProbability = &p
	}
	if o.ChecksThreshold != nil {
		c.Thresholds.Checks = *o.ChecksThreshold
	}
	if o.MetricsAddr != nil {
		c.MetricsAddr = *o.MetricsAddr
	}
}
