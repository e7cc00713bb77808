package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/olympisai/trafficgen/internal/loadgen"
	"github.com/olympisai/trafficgen/internal/loadgen/metrics"
	"github.com/olympisai/trafficgen/internal/loadgen/ramp"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors. It matches
// ramp.ErrInvalidConfig with errors.Is.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap lets errors.Is match ramp.ErrInvalidConfig.
func (e *ValidationErrors) Unwrap() error {
	return ramp.ErrInvalidConfig
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the whole configuration. Call ApplyDefaults first.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(c.BaseURL, errs)

	switch c.Scenario {
	case loadgen.ScenarioLoad, loadgen.ScenarioStress:
	default:
		errs.Add("scenario", fmt.Sprintf("must be %q or %q, got %q", loadgen.ScenarioLoad, loadgen.ScenarioStress, c.Scenario))
	}

	if c.StartVUs < 0 {
		errs.Add("startVUs", "cannot be negative")
	}
	for i, s := range c.Stages {
		if s.Duration < 0 {
			errs.Add(fmt.Sprintf("stages[%d].duration", i), "cannot be negative")
		}
		if s.Target < 0 {
			errs.Add(fmt.Sprintf("stages[%d].target", i), "cannot be negative")
		}
	}

	if c.Duration < 0 {
		errs.Add("duration", "cannot be negative")
	}
	if c.GracefulStop < 0 {
		errs.Add("gracefulStop", "cannot be negative")
	}
	if c.Timeout < 0 {
		errs.Add("timeout", "cannot be negative")
	}
	if c.MaxConnsPerHost < 0 {
		errs.Add("maxConnsPerHost", "cannot be negative")
	}

	if c.Pacing != nil {
		if c.Pacing.Min < 0 {
			errs.Add("pacing.min", "cannot be negative")
		}
		if c.Pacing.Max < c.Pacing.Min {
			errs.Add("pacing.max", fmt.Sprintf("must be at least pacing.min (%s)", c.Pacing.Min))
		}
	}

	if p := c.CreateProbability; p != nil && (*p < 0 || *p > 1) {
		errs.Add("createProbability", fmt.Sprintf("must be between 0 and 1, got %g", *p))
	}

	if c.ExpectStatus < 100 || c.ExpectStatus > 599 {
		errs.Add("expectStatus", fmt.Sprintf("invalid HTTP status %d", c.ExpectStatus))
	}

	validatePath("paths.healthcheck", c.Paths.Healthcheck, errs)
	validatePath("paths.profile", c.Paths.Profile, errs)
	validatePath("paths.stores", c.Paths.Stores, errs)
	validatePath("paths.jobs", c.Paths.Jobs, errs)

	if c.Payload.NameLength <= 0 {
		errs.Add("payload.nameLength", "must be positive")
	}
	if c.Payload.DomainLength <= 0 {
		errs.Add("payload.domainLength", "must be positive")
	}

	for name := range c.Headers {
		if strings.TrimSpace(name) == "" {
			errs.Add("headers", "header name cannot be empty")
		}
	}

	validateThresholds(&c.Thresholds, errs)

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs.Add("metricsAddr", fmt.Sprintf("invalid address: %v", err))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("baseUrl", "is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}

func validatePath(field, path string, errs *ValidationErrors) {
	if !strings.HasPrefix(path, "/") {
		errs.Add(field, fmt.Sprintf("must start with '/', got %q", path))
	}
}

func validateThresholds(t *metrics.Thresholds, errs *ValidationErrors) {
	if t.Checks < 0 || t.Checks > 1 {
		errs.Add("thresholds.checks", fmt.Sprintf("must be between 0 and 1, got %g", t.Checks))
	}
	for name, rate := range t.PerCheck {
		if rate < 0 || rate > 1 {
			errs.Add("thresholds.perCheck."+name, fmt.Sprintf("must be between 0 and 1, got %g", rate))
		}
	}
	for i, expr := range t.Latency {
		if err := metrics.ValidateLatencyExpression(expr); err != nil {
			errs.Add(fmt.Sprintf("thresholds.latency[%d]", i), err.Error())
		}
	}
}
