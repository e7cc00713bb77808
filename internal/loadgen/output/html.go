package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/olympisai/trafficgen/internal/loadgen/engine"
	"github.com/olympisai/trafficgen/internal/loadgen/metrics"
)

type htmlData struct {
	*engine.TestResult
	Title      string
	SeriesJSON template.JS
}

type seriesPoint struct {
	T         string  `json:"t"`
	RPS       float64 `json:"rps"`
	PassRate  float64 `json:"passRate"`
	ActiveVUs int     `json:"vus"`
}

// WriteHTML renders result as a standalone HTML report at path.
func WriteHTML(path string, result *engine.TestResult) error {
	page, err := RenderHTML(result)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, page, 0o644); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}
	return nil
}

// RenderHTML renders result as an HTML page.
func RenderHTML(result *engine.TestResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("result cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"duration": formatDuration,
		"latency":  formatLatency,
		"number":   formatNumber,
		"bytes":    formatBytes,
		"percent":  func(r float64) string { return fmt.Sprintf("%.2f%%", r*100) },
		"stages":   func(r *engine.TestResult) string { return stagesLabel(r) },
	}).Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	series, err := seriesJSON(result.TimeSeries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode time series: %w", err)
	}

	title := result.Name
	if title == "" {
		title = string(result.Scenario)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, htmlData{TestResult: result, Title: title, SeriesJSON: template.JS(series)}); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func seriesJSON(buckets []*metrics.TimeBucket) (string, error) {
	points := make([]seriesPoint, 0, len(buckets))
	for _, b := range buckets {
		passRate := 1.0
		if b.Requests > 0 {
			passRate = float64(b.Passed) / float64(b.Requests)
		}
		points = append(points, seriesPoint{
			T:         b.Timestamp.Format(time.TimeOnly),
			RPS:       b.RPS,
			PassRate:  passRate,
			ActiveVUs: b.ActiveVUs,
		})
	}
	data, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}

func stagesLabel(r *engine.TestResult) string {
	out := fmt.Sprintf("%d", r.StartVUs)
	for _, s := range r.Stages {
		out += fmt.Sprintf(" → %d (%s)", s.Target, time.Duration(s.Duration))
	}
	return out
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}} - trafficgen report</title>
<script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; margin: 0; background: #f4f6f8; color: #1f2933; }
.container { max-width: 1100px; margin: 0 auto; padding: 24px; }
.header { display: flex; justify-content: space-between; align-items: center; }
.status { padding: 8px 16px; border-radius: 6px; font-weight: 600; color: #fff; }
.pass { background: #2f9e44; } .fail { background: #e03131; }
.meta { color: #52606d; font-size: 14px; }
.cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 12px; margin: 20px 0; }
.card { background: #fff; border-radius: 8px; padding: 14px; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
.card .label { font-size: 12px; color: #7b8794; text-transform: uppercase; }
.card .value { font-size: 22px; font-weight: 600; margin-top: 4px; }
.section { background: #fff; border-radius: 8px; padding: 16px; margin-bottom: 16px; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
table { width: 100%; border-collapse: collapse; font-size: 14px; }
th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #e4e7eb; }
td.ok { color: #2f9e44; } td.bad { color: #e03131; }
</style>
</head>
<body>
<div class="container">
  <div class="header">
    <div>
      <h1>{{.Title}}</h1>
      <div class="meta">
        {{.Scenario}} against {{.BaseURL}} · run {{.RunID}} · seed {{.Seed}}<br>
        {{.StartTime.Format "2006-01-02 15:04:05"}} · {{duration .Duration}} · VUs {{stages .TestResult}}
        {{if .Interrupted}}· interrupted{{end}}
      </div>
    </div>
    <div class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}✓ PASSED{{else}}✗ FAILED{{end}}</div>
  </div>

  {{with .Metrics}}
  <div class="cards">
    <div class="card"><div class="label">Requests</div><div class="value">{{number .TotalRequests}}</div></div>
    <div class="card"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .RPS}}/s</div></div>
    <div class="card"><div class="label">Pass rate</div><div class="value">{{percent .PassRate}}</div></div>
    <div class="card"><div class="label">Transport errors</div><div class="value">{{number .TransportErrors}}</div></div>
    <div class="card"><div class="label">p95</div><div class="value">{{latency .Latency.P95}}</div></div>
    <div class="card"><div class="label">Received</div><div class="value">{{bytes .TotalBytes}}</div></div>
  </div>

  <div class="section">
    <h2>Checks</h2>
    <table>
      <tr><th>Check</th><th>Count</th><th>Pass rate</th><th>Transport</th><th>Assertion</th><th>p50</th><th>p95</th><th>p99</th><th>Status codes</th></tr>
      {{range .Checks}}
      <tr>
        <td>{{.Name}}</td>
        <td>{{number .Count}}</td>
        <td class="{{if eq .Failed 0}}ok{{else}}bad{{end}}">{{percent .PassRate}}</td>
        <td>{{.TransportErrors}}</td>
        <td>{{.AssertionFailures}}</td>
        <td>{{latency .Latency.P50}}</td>
        <td>{{latency .Latency.P95}}</td>
        <td>{{latency .Latency.P99}}</td>
        <td>{{range .StatusCodes}}{{.Code}}×{{.Count}} {{end}}</td>
      </tr>
      {{end}}
    </table>
  </div>
  {{end}}

  {{if .Thresholds}}
  <div class="section">
    <h2>Thresholds</h2>
    <table>
      <tr><th></th><th>Metric</th><th>Expression</th><th>Actual</th><th></th></tr>
      {{range .Thresholds}}
      <tr>
        <td class="{{if .Passed}}ok{{else}}bad{{end}}">{{if .Passed}}✓{{else}}✗{{end}}</td>
        <td>{{.Metric}}</td><td>{{.Expression}}</td><td>{{.Value}}</td><td>{{.Message}}</td>
      </tr>
      {{end}}
    </table>
  </div>
  {{end}}

  {{if .TimeSeries}}
  <div class="section">
    <h2>Over time</h2>
    <canvas id="series" height="110"></canvas>
  </div>
  <script>
  const series = {{.SeriesJSON}};
  new Chart(document.getElementById('series'), {
    type: 'line',
    data: {
      labels: series.map(p => p.t),
      datasets: [
        { label: 'RPS', data: series.map(p => p.rps), yAxisID: 'y', borderColor: '#1c7ed6', tension: 0.2 },
        { label: 'Active VUs', data: series.map(p => p.vus), yAxisID: 'vus', borderColor: '#ae3ec9', stepped: true },
        { label: 'Pass rate', data: series.map(p => p.passRate * 100), yAxisID: 'pct', borderColor: '#2f9e44', hidden: true }
      ]
    },
    options: {
      animation: false,
      scales: {
        y: { position: 'left', beginAtZero: true },
        vus: { position: 'right', beginAtZero: true, grid: { drawOnChartArea: false } },
        pct: { position: 'right', min: 0, max: 100, display: false }
      }
    }
  });
  </script>
  {{end}}
</div>
</body>
</html>
`
