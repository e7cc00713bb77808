// Package output renders live progress and final summaries of a traffic run.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/olympisai/trafficgen/internal/loadgen/engine"
	"github.com/olympisai/trafficgen/internal/loadgen/metrics"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	rule           = "━"
	progressFilled = "█"
	progressEmpty  = "░"
)

// Console writes the run header, live progress and the final summary.
type Console struct {
	writer    io.Writer
	isTTY     bool
	useColors bool
	quiet     bool

	title   *color.Color
	accent  *color.Color
	dim     *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	latency *color.Color

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsole creates a console writer. Colors and in-place redraws are only
// used on a terminal unless forced.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && supportsColors()))

	c := &Console{
		writer:    cfg.Writer,
		isTTY:     isTTY,
		useColors: useColors,
		quiet:     cfg.Quiet,
		title:     color.New(color.Bold),
		accent:    color.New(color.FgCyan),
		dim:       color.New(color.Faint),
		good:      color.New(color.FgGreen),
		warn:      color.New(color.FgYellow),
		bad:       color.New(color.FgRed, color.Bold),
		latency:   color.New(color.FgBlue),
	}
	for _, col := range []*color.Color{c.title, c.accent, c.dim, c.good, c.warn, c.bad, c.latency} {
		if useColors {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return checkIsTerminal(f)
	}
	return false
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints what is about to run.
func (c *Console) PrintHeader(eng *engine.Engine) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := eng.Config()
	name := cfg.Name
	if name == "" {
		name = string(cfg.Scenario)
	}

	line := strings.Repeat(rule, 56)
	c.writeln(c.accent.Sprint(line))
	c.writeln(fmt.Sprintf("%s [%s]", c.title.Sprint(name), cfg.Scenario))
	c.writeln(c.accent.Sprint(line))
	c.writeln(fmt.Sprintf("Target:    %s", cfg.BaseURL))
	c.writeln(fmt.Sprintf("Run:       %s (seed %d)", eng.RunID(), eng.Seed()))
	c.writeln(fmt.Sprintf("Ramp:      %d VUs, %d stages, peak %d VUs, %s",
		cfg.StartVUs, len(cfg.Stages), cfg.MaxVUs(), formatDuration(cfg.TotalDuration())))
	c.writeln("")
}

// Update shows live progress. On a terminal the previous block is redrawn
// in place; otherwise a single status line is appended.
func (c *Console) Update(p engine.Progress) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.writeln(c.statusLine(p))
		return
	}

	c.clearLive()
	lines := c.renderLive(p)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLive(p engine.Progress) []string {
	stats := p.Pool
	stage := stageLabel(stats.CurrentStage, stats.TotalStages)

	lines := []string{
		fmt.Sprintf("Progress: %s %s | %s / %s",
			c.good.Sprint(progressBar(stats.Progress, 40)),
			c.title.Sprintf("%.0f%%", stats.Progress*100),
			formatDuration(stats.Elapsed),
			formatDuration(stats.Lifetime)),
		fmt.Sprintf("Stage:    %s %s", stage, c.dim.Sprint(stats.Phase)),
		fmt.Sprintf("VUs:      %s / %d   Iterations: %s",
			c.accent.Sprint(stats.ActiveVUs), stats.TargetVUs, formatNumber(stats.Iterations)),
	}

	if s := p.Snapshot; s != nil {
		lines = append(lines,
			fmt.Sprintf("Requests: %s   RPS: %s   Pass: %s",
				c.accent.Sprint(formatNumber(s.TotalRequests)),
				c.good.Sprintf("%.1f", s.CurrentRPS),
				c.rateColor(s.PassRate).Sprintf("%.1f%%", s.PassRate*100)),
			fmt.Sprintf("Latency:  p50 %s   p95 %s   p99 %s",
				c.latency.Sprint(formatLatency(s.Latency.P50)),
				c.latency.Sprint(formatLatency(s.Latency.P95)),
				c.latency.Sprint(formatLatency(s.Latency.P99))))
	}
	return lines
}

// statusLine is the one-line form used when output is not a terminal.
func (c *Console) statusLine(p engine.Progress) string {
	stats := p.Pool
	line := fmt.Sprintf("[%s] %.0f%% | stage %s %s | VUs: %d/%d",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stageLabel(stats.CurrentStage, stats.TotalStages),
		stats.Phase,
		stats.ActiveVUs, stats.TargetVUs)

	if s := p.Snapshot; s != nil {
		line += fmt.Sprintf(" | Reqs: %d | RPS: %.1f | Pass: %.1f%% | P95: %s",
			s.TotalRequests, s.CurrentRPS, s.PassRate*100, formatLatency(s.Latency.P95))
	}
	return line
}

// PrintSummary prints the final per-check breakdown and threshold results.
func (c *Console) PrintSummary(result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if result.Passed {
			c.writeln(c.good.Sprint("PASSED"))
		} else {
			c.writeln(c.bad.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	status := c.good.Sprint("Completed ✓")
	if !result.Passed {
		status = c.bad.Sprint("Failed ✗")
	}
	if result.Interrupted {
		status += c.warn.Sprint(" (interrupted)")
	}

	name := result.Name
	if name == "" {
		name = string(result.Scenario)
	}

	line := strings.Repeat(rule, 56)
	c.writeln("")
	c.writeln(c.accent.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.title.Sprint(name), status))
	c.writeln(c.accent.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.accent.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.accent.Sprint(formatNumber(result.Iterations))))
	c.writeln(fmt.Sprintf("VUs spawned:   %s", c.accent.Sprint(formatNumber(result.Spawned))))

	if m := result.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s (%.1f/s)", c.accent.Sprint(formatNumber(m.TotalRequests)), m.RPS))
		c.writeln(fmt.Sprintf("Pass Rate:     %s", c.rateColor(m.PassRate).Sprintf("%.2f%%", m.PassRate*100)))
		if m.TransportErrors > 0 || m.AssertionFailures > 0 {
			c.writeln(fmt.Sprintf("Failures:      %d transport, %d assertion", m.TransportErrors, m.AssertionFailures))
		}
		c.writeln(fmt.Sprintf("Received:      %s", formatBytes(m.TotalBytes)))
		c.writeln("")

		if len(m.Checks) > 0 {
			c.writeln(c.title.Sprint("Checks:"))
			for _, check := range m.Checks {
				c.writeln(c.checkLine(check))
			}
			c.writeln("")
		}

		c.writeln(c.title.Sprint("Latency:"))
		c.writeln(fmt.Sprintf("  min %s  p50 %s  p90 %s  p95 %s  p99 %s  max %s",
			formatLatency(m.Latency.Min),
			formatLatency(m.Latency.P50),
			formatLatency(m.Latency.P90),
			formatLatency(m.Latency.P95),
			formatLatency(m.Latency.P99),
			formatLatency(m.Latency.Max)))
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.title.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := c.good.Sprint("✓")
			if !t.Passed {
				mark = c.bad.Sprint("✗")
			}
			line := fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value)
			if t.Message != "" {
				line += " " + c.dim.Sprint(t.Message)
			}
			c.writeln(line)
		}
		c.writeln("")
	}
}

func (c *Console) checkLine(check metrics.CheckStats) string {
	mark := c.good.Sprint("✓")
	if check.Failed > 0 {
		mark = c.bad.Sprint("✗")
	}

	line := fmt.Sprintf("  %s %-18s %8s  %s  p50 %s  p95 %s  p99 %s",
		mark,
		check.Name,
		formatNumber(check.Count),
		c.rateColor(check.PassRate).Sprintf("%6.2f%%", check.PassRate*100),
		formatLatency(check.Latency.P50),
		formatLatency(check.Latency.P95),
		formatLatency(check.Latency.P99))

	if check.Failed > 0 {
		var codes []string
		for _, sc := range check.StatusCodes {
			codes = append(codes, fmt.Sprintf("%d×%d", sc.Code, sc.Count))
		}
		if len(codes) > 0 {
			line += " " + c.dim.Sprintf("[%s]", strings.Join(codes, " "))
		}
	}
	return line
}

func (c *Console) rateColor(rate float64) *color.Color {
	switch {
	case rate >= 0.99:
		return c.good
	case rate >= 0.95:
		return c.warn
	default:
		return c.bad
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// stageLabel shows a 1-based stage position, clamped to the stage count.
func stageLabel(index, total int) string {
	if total == 0 {
		return "-"
	}
	n := index + 1
	if n > total {
		n = total
	}
	return fmt.Sprintf("%d/%d", n, total)
}

func progressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func formatLatency(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber adds thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
