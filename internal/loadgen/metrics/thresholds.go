package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Thresholds are pass/fail criteria evaluated against the final snapshot.
type Thresholds struct {
	// Checks is the minimum pass rate every check must reach, e.g. 0.95.
	// Zero disables it.
	Checks float64 `json:"checks,omitempty" yaml:"checks,omitempty"`

	// PerCheck overrides Checks for individual check names
	PerCheck map[string]float64 `json:"perCheck,omitempty" yaml:"perCheck,omitempty"`

	// Latency holds expressions over the overall latency, e.g. "p95 < 500ms"
	Latency []string `json:"latency,omitempty" yaml:"latency,omitempty"`
}

// IsZero reports whether no threshold is configured.
func (t Thresholds) IsZero() bool {
	return t.Checks == 0 && len(t.PerCheck) == 0 && len(t.Latency) == 0
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// AllPassed reports whether every result passed.
func AllPassed(results []ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Evaluate checks snapshot against t.
//
// A pass-rate threshold for a check that never ran is skipped; a per-check
// threshold naming a check that never ran fails.
func (t Thresholds) Evaluate(snapshot *Snapshot) []ThresholdResult {
	var results []ThresholdResult

	if t.Checks > 0 {
		for _, c := range snapshot.Checks {
			if _, overridden := t.PerCheck[c.Name]; overridden {
				continue
			}
			results = append(results, passRateResult(c, t.Checks))
		}
	}

	names := make([]string, 0, len(t.PerCheck))
	for name := range t.PerCheck {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		minRate := t.PerCheck[name]
		c, ok := snapshot.Check(name)
		if !ok {
			results = append(results, ThresholdResult{
				Metric:     "checks{" + name + "}",
				Expression: fmt.Sprintf("rate >= %g", minRate),
				Message:    "check never ran",
			})
			continue
		}
		results = append(results, passRateResult(c, minRate))
	}

	for _, expr := range t.Latency {
		results = append(results, evaluateLatency(expr, snapshot.Latency))
	}

	return results
}

func passRateResult(c CheckStats, minRate float64) ThresholdResult {
	r := ThresholdResult{
		Metric:     "checks{" + c.Name + "}",
		Expression: fmt.Sprintf("rate >= %g", minRate),
		Value:      fmt.Sprintf("%.4f", c.PassRate),
		Passed:     c.PassRate >= minRate,
	}
	if !r.Passed {
		r.Message = fmt.Sprintf("%s passed %d/%d (%.2f%%), threshold: >= %.2f%%",
			c.Name, c.Passed, c.Count, c.PassRate*100, minRate*100)
	}
	return r
}

func evaluateLatency(expr string, latency LatencyStats) ThresholdResult {
	result := ThresholdResult{
		Metric:     "latency",
		Expression: expr,
	}

	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	actual, ok := latencyValue(latency, metric)
	if !ok {
		result.Message = fmt.Sprintf("unknown metric: %s", metric)
		return result
	}

	threshold, err := time.ParseDuration(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = actual.String()
	result.Passed = compareValues(float64(actual), op, float64(threshold))
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", metric, actual, op, threshold)
	}
	return result
}

func latencyValue(l LatencyStats, metric string) (time.Duration, bool) {
	switch metric {
	case "min":
		return l.Min, true
	case "max":
		return l.Max, true
	case "avg":
		return l.Mean, true
	case "med", "p50":
		return l.P50, true
	case "p90":
		return l.P90, true
	case "p95":
		return l.P95, true
	case "p99":
		return l.P99, true
	default:
		return 0, false
	}
}

var thresholdExpr = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// ValidateLatencyExpression reports whether expr is a usable latency threshold.
func ValidateLatencyExpression(expr string) error {
	metric, op, value, err := parseThresholdExpression(expr)
	if err != nil {
		return err
	}
	if _, ok := latencyValue(LatencyStats{}, metric); !ok {
		return fmt.Errorf("unknown metric %q (want p50, p90, p95, p99, min, max, avg or med)", metric)
	}
	switch op {
	case "<", "<=", ">", ">=", "==", "!=":
	default:
		return fmt.Errorf("invalid operator %q", op)
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid duration %q", value)
	}
	return nil
}

func parseThresholdExpression(expr string) (metric, op, value string, err error) {
	matches := thresholdExpr.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}
