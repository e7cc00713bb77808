// Package config loads and validates trafficgen run configurations.
//
// A configuration comes from a YAML or JSON file, from a built-in profile,
// or both, with command-line overrides applied last.
package config

import (
	"time"

	"github.com/olympisai/trafficgen/internal/loadgen"
	"github.com/olympisai/trafficgen/internal/loadgen/metrics"
	"github.com/olympisai/trafficgen/internal/loadgen/ramp"
)

// DefaultUserAgent is sent when no userAgent is configured.
const DefaultUserAgent = "trafficgen"

// Config is the root run configuration.
type Config struct {
	// Name is a human-readable name for the run
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// BaseURL is the store API every path is resolved against
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// Scenario selects the iteration body: "load" or "stress"
	Scenario loadgen.ScenarioKind `json:"scenario" yaml:"scenario"`

	// StartVUs is the worker count before the first stage
	StartVUs int `json:"startVUs" yaml:"startVUs"`

	// Stages drive the worker count over time
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Duration overrides the run lifetime; zero means the sum of stages
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// GracefulStop bounds the wait for in-flight calls at the end
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Seed makes random draws reproducible; zero picks a time-based seed
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Pacing is the think time between scenario steps
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// CreateProbability is the chance a load iteration creates a store
	CreateProbability *float64 `json:"createProbability,omitempty" yaml:"createProbability,omitempty"`

	// ExpectStatus is the status every check expects (default 200)
	ExpectStatus int `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`

	Paths   PathsConfig   `json:"paths,omitempty" yaml:"paths,omitempty"`
	Payload PayloadConfig `json:"payload,omitempty" yaml:"payload,omitempty"`

	// HTTP client settings
	Timeout            Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxConnsPerHost    int               `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	DisableKeepAlives  bool              `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`
	InsecureSkipVerify bool              `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	Headers            map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	UserAgent          string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// ValidateResponse checks store creation bodies against their schema
	ValidateResponse bool `json:"validateResponse,omitempty" yaml:"validateResponse,omitempty"`

	// TrackJob follows each created store with a GET of its setup job
	TrackJob bool `json:"trackJob,omitempty" yaml:"trackJob,omitempty"`

	// Thresholds decide whether the run passed
	Thresholds metrics.Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// MetricsAddr, when set, serves Prometheus metrics on this address
	MetricsAddr string `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`
}

// StageConfig is one ramp stage.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig bounds the uniform think time.
type PacingConfig struct {
	Min Duration `json:"min" yaml:"min"`
	Max Duration `json:"max" yaml:"max"`
}

// PathsConfig overrides the store API routes.
type PathsConfig struct {
	Healthcheck string `json:"healthcheck,omitempty" yaml:"healthcheck,omitempty"`
	Profile     string `json:"profile,omitempty" yaml:"profile,omitempty"`
	Stores      string `json:"stores,omitempty" yaml:"stores,omitempty"`
	Jobs        string `json:"jobs,omitempty" yaml:"jobs,omitempty"`
}

// PayloadConfig shapes generated stores.
type PayloadConfig struct {
	NamePrefix   string `json:"namePrefix,omitempty" yaml:"namePrefix,omitempty"`
	NameLength   int    `json:"nameLength,omitempty" yaml:"nameLength,omitempty"`
	DomainLength int    `json:"domainLength,omitempty" yaml:"domainLength,omitempty"`
}

// ApplyDefaults fills unset fields with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.Scenario == "" {
		c.Scenario = loadgen.ScenarioLoad
	}
	c.GracefulStop = Duration(c.GracefulStop.GetDuration(loadgen.DefaultGracefulStop))
	if c.Pacing == nil {
		c.Pacing = &PacingConfig{
			Min: Duration(loadgen.DefaultPacingMin),
			Max: Duration(loadgen.DefaultPacingMax),
		}
	}
	if c.CreateProbability == nil {
		p := loadgen.DefaultCreateProbability
		c.CreateProbability = &p
	}
	if c.ExpectStatus == 0 {
		c.ExpectStatus = 200
	}

	paths := loadgen.DefaultPaths()
	if c.Paths.Healthcheck == "" {
		c.Paths.Healthcheck = paths.Healthcheck
	}
	if c.Paths.Profile == "" {
		c.Paths.Profile = paths.Profile
	}
	if c.Paths.Stores == "" {
		c.Paths.Stores = paths.Stores
	}
	if c.Paths.Jobs == "" {
		c.Paths.Jobs = paths.Jobs
	}

	payload := loadgen.DefaultPayloadShape()
	if c.Payload.NamePrefix == "" {
		c.Payload.NamePrefix = payload.NamePrefix
	}
	if c.Payload.NameLength == 0 {
		c.Payload.NameLength = payload.NameLength
	}
	if c.Payload.DomainLength == 0 {
		c.Payload.DomainLength = payload.DomainLength
	}

	c.Timeout = Duration(c.Timeout.GetDuration(loadgen.DefaultHTTPClientConfig().Timeout))
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// RampStages converts the configured stages for the ramp controller.
func (c *Config) RampStages() []ramp.Stage {
	stages := make([]ramp.Stage, len(c.Stages))
	for i, s := range c.Stages {
		stages[i] = ramp.Stage{Duration: time.Duration(s.Duration), Target: s.Target, Name: s.Name}
	}
	return stages
}

// TotalDuration is how long the run lasts; zero means until interrupted.
func (c *Config) TotalDuration() time.Duration {
	if c.Duration > 0 {
		return time.Duration(c.Duration)
	}
	var total time.Duration
	for _, s := range c.Stages {
		total += time.Duration(s.Duration)
	}
	return total
}

// MaxVUs returns the highest worker count the stages reach.
func (c *Config) MaxVUs() int {
	maxVUs := c.StartVUs
	for _, s := range c.Stages {
		if s.Target > maxVUs {
			maxVUs = s.Target
		}
	}
	return maxVUs
}

// ScenarioOptions builds the scenario knobs. Call ApplyDefaults first.
func (c *Config) ScenarioOptions() loadgen.ScenarioOptions {
	opts := loadgen.ScenarioOptions{
		Paths: loadgen.Paths{
			Healthcheck: c.Paths.Healthcheck,
			Profile:     c.Paths.Profile,
			Stores:      c.Paths.Stores,
			Jobs:        c.Paths.Jobs,
		},
		Payload: loadgen.PayloadShape{
			NamePrefix:   c.Payload.NamePrefix,
			NameLength:   c.Payload.NameLength,
			DomainLength: c.Payload.DomainLength,
		},
		ExpectStatus:     c.ExpectStatus,
		ValidateResponse: c.ValidateResponse,
		TrackJob:         c.TrackJob,
	}
	if c.Pacing != nil {
		opts.Pacer = loadgen.Pacer{Min: time.Duration(c.Pacing.Min), Max: time.Duration(c.Pacing.Max)}
	}
	if c.CreateProbability != nil {
		opts.CreateProbability = *c.CreateProbability
	}
	return opts
}

// HTTPClientConfig builds the shared client settings, sized for the peak
// worker count.
func (c *Config) HTTPClientConfig() loadgen.HTTPClientConfig {
	cfg := loadgen.DefaultHTTPClientConfig()
	cfg.Timeout = c.Timeout.GetDuration(cfg.Timeout)
	cfg.MaxConnsPerHost = c.MaxConnsPerHost
	cfg.DisableKeepAlives = c.DisableKeepAlives
	cfg.InsecureSkipVerify = c.InsecureSkipVerify
	if peak := c.MaxVUs(); peak > cfg.MaxIdleConnsPerHost {
		cfg.MaxIdleConnsPerHost = peak
	}
	return cfg
}

// Target builds the request target.
func (c *Config) Target() loadgen.Target {
	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		headers[k] = v
	}
	return loadgen.Target{BaseURL: c.BaseURL, Headers: headers, UserAgent: c.UserAgent}
}
