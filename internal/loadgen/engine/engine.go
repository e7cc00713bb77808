// Package engine runs a configured traffic generation end to end.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/olympisai/trafficgen/internal/loadgen"
	"github.com/olympisai/trafficgen/internal/loadgen/config"
	"github.com/olympisai/trafficgen/internal/loadgen/metrics"
	"github.com/olympisai/trafficgen/internal/loadgen/ramp"
)

// DefaultProgressInterval is how often OnProgress fires.
const DefaultProgressInterval = time.Second

// Engine wires a Config into a worker pool, an aggregator and optionally a
// Prometheus exporter.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("run.yaml")
//	eng, _ := engine.NewEngine(cfg, engine.Options{})
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("passed: %v\n", result.Passed)
type Engine struct {
	config     *config.Config
	opts       Options
	logger     *zap.Logger
	runID      string
	seed       int64
	controller *ramp.Controller
	scenario   loadgen.Scenario

	mu         sync.RWMutex
	running    bool
	pool       *loadgen.Pool
	aggregator *metrics.Aggregator
}

// Options are runtime collaborators that are not part of the file config.
type Options struct {
	Logger *zap.Logger

	// OnProgress is called every ProgressInterval while the run is active
	OnProgress       func(Progress)
	ProgressInterval time.Duration

	// Sinks receive every result in addition to the aggregator
	Sinks []loadgen.Sink

	// Exporter replaces the one created for config.MetricsAddr
	Exporter *metrics.Exporter

	// HTTPClient replaces the client built from the config
	HTTPClient *http.Client

	// PollInterval overrides loadgen.DefaultPollInterval
	PollInterval time.Duration
}

// Progress is a live view of a running test.
type Progress struct {
	RunID    string
	Pool     loadgen.Stats
	Snapshot *metrics.Snapshot
}

// TestResult contains the complete run results.
type TestResult struct {
	RunID     string               `json:"runId"`
	Name      string               `json:"name,omitempty"`
	Scenario  loadgen.ScenarioKind `json:"scenario"`
	BaseURL   string               `json:"baseUrl"`
	Seed      int64                `json:"seed"`
	StartVUs  int                  `json:"startVUs"`
	Stages    []config.StageConfig `json:"stages"`
	StartTime time.Time            `json:"startTime"`
	EndTime   time.Time            `json:"endTime"`
	Duration  time.Duration        `json:"duration"`

	// Interrupted is set when the context ended the run early
	Interrupted bool `json:"interrupted"`

	Iterations int64 `json:"iterations"`
	Spawned    int64 `json:"spawned"`
	PeakVUs    int   `json:"peakVUs"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`

	Passed     bool                      `json:"passed"`
	Thresholds []metrics.ThresholdResult `json:"thresholds,omitempty"`
}

// NewEngine applies defaults to cfg, validates it and prepares the run.
func NewEngine(cfg *config.Config, opts Options) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	controller, err := ramp.New(cfg.StartVUs, cfg.RampStages())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	scenario, err := loadgen.NewScenario(cfg.Scenario, cfg.ScenarioOptions())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}

	runID := uuid.NewString()
	return &Engine{
		config:     cfg,
		opts:       opts,
		logger:     opts.Logger.With(zap.String("runId", runID)),
		runID:      runID,
		seed:       loadgen.RunSeed(cfg.Seed),
		controller: controller,
		scenario:   scenario,
	}, nil
}

// RunID identifies this run in logs, metrics and reports.
func (e *Engine) RunID() string {
	return e.runID
}

// Seed is the resolved run seed.
func (e *Engine) Seed() int64 {
	return e.seed
}

// Config returns the validated configuration.
func (e *Engine) Config() *config.Config {
	return e.config
}

// Run executes the configured ramp and returns the results.
//
// Cancelling ctx stops the run early; the result is still returned with
// Interrupted set.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	aggregator := metrics.NewAggregator()
	defer aggregator.Stop()

	sinks := loadgen.MultiSink{aggregator}
	sinks = append(sinks, e.opts.Sinks...)

	exporter := e.opts.Exporter
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if exporter == nil && e.config.MetricsAddr != "" {
		exporter = metrics.NewExporter(metrics.ExporterConfig{
			ConstLabels: prometheus.Labels{
				"run_id":   e.runID,
				"scenario": string(e.config.Scenario),
			},
		})
		go func() {
			if err := exporter.Serve(metricsCtx, e.config.MetricsAddr, e.logger); err != nil {
				e.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	if exporter != nil {
		sinks = append(sinks, exporter)
	}

	client := e.opts.HTTPClient
	if client == nil {
		client = loadgen.NewHTTPClient(e.config.HTTPClientConfig())
	}

	pool, err := loadgen.NewPool(loadgen.PoolConfig{
		Controller:   e.controller,
		Scenario:     e.scenario,
		Client:       client,
		Target:       e.config.Target(),
		Sink:         sinks,
		Duration:     time.Duration(e.config.Duration),
		GracefulStop: e.config.GracefulStop.GetDuration(loadgen.DefaultGracefulStop),
		PollInterval: e.opts.PollInterval,
		Seed:         e.seed,
		Logger:       e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	e.mu.Lock()
	e.pool = pool
	e.aggregator = aggregator
	e.mu.Unlock()

	e.logger.Info("run started",
		zap.String("name", e.config.Name),
		zap.String("scenario", string(e.config.Scenario)),
		zap.String("baseUrl", e.config.BaseURL),
		zap.Int64("seed", e.seed),
		zap.Int("peakVUs", e.controller.MaxTarget()),
		zap.Duration("lifetime", pool.Lifetime()))

	startTime := time.Now()

	reporterDone := make(chan struct{})
	reporterCtx, stopReporter := context.WithCancel(ctx)
	go func() {
		defer close(reporterDone)
		e.report(reporterCtx, pool, aggregator, exporter)
	}()

	runErr := pool.Run(ctx)

	stopReporter()
	<-reporterDone
	e.sync(pool, aggregator, exporter)
	aggregator.Stop()

	endTime := time.Now()
	interrupted := ctx.Err() != nil && (pool.Lifetime() == 0 || endTime.Sub(startTime) < pool.Lifetime())

	snapshot := aggregator.Snapshot()
	thresholds := e.config.Thresholds.Evaluate(snapshot)
	stats := pool.Stats()

	result := &TestResult{
		RunID:       e.runID,
		Name:        e.config.Name,
		Scenario:    e.config.Scenario,
		BaseURL:     e.config.BaseURL,
		Seed:        e.seed,
		StartVUs:    e.config.StartVUs,
		Stages:      e.config.Stages,
		StartTime:   startTime,
		EndTime:     endTime,
		Duration:    endTime.Sub(startTime),
		Interrupted: interrupted,
		Iterations:  stats.Iterations,
		Spawned:     stats.Spawned,
		PeakVUs:     e.controller.MaxTarget(),
		Metrics:     snapshot,
		TimeSeries:  aggregator.TimeSeries(),
		Passed:      metrics.AllPassed(thresholds),
		Thresholds:  thresholds,
	}

	e.logger.Info("run finished",
		zap.Bool("passed", result.Passed),
		zap.Bool("interrupted", interrupted),
		zap.Int64("requests", snapshot.TotalRequests),
		zap.Float64("passRate", snapshot.PassRate),
		zap.Int64("iterations", result.Iterations),
		zap.Duration("duration", result.Duration))

	if runErr != nil {
		return result, fmt.Errorf("run failed: %w", runErr)
	}
	return result, nil
}

// report pushes pool state into the metrics and calls OnProgress until ctx
// is done.
func (e *Engine) report(ctx context.Context, pool *loadgen.Pool, agg *metrics.Aggregator, exp *metrics.Exporter) {
	ticker := time.NewTicker(e.opts.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := e.sync(pool, agg, exp)
			if e.opts.OnProgress != nil {
				e.opts.OnProgress(Progress{RunID: e.runID, Pool: stats, Snapshot: agg.Snapshot()})
			}
		}
	}
}

func (e *Engine) sync(pool *loadgen.Pool, agg *metrics.Aggregator, exp *metrics.Exporter) loadgen.Stats {
	stats := pool.Stats()
	agg.SetVUs(stats.ActiveVUs, stats.TargetVUs)
	agg.SetPhase(stats.Phase)
	if exp != nil {
		exp.SetVUs(stats.ActiveVUs, stats.TargetVUs)
	}
	return stats
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Snapshot returns the current metrics, or nil before Run.
func (e *Engine) Snapshot() *metrics.Snapshot {
	e.mu.RLock()
	agg := e.aggregator
	e.mu.RUnlock()

	if agg == nil {
		return nil
	}
	return agg.Snapshot()
}

// PoolStats returns the current pool state, or false before Run.
func (e *Engine) PoolStats() (loadgen.Stats, bool) {
	e.mu.RLock()
	pool := e.pool
	e.mu.RUnlock()

	if pool == nil {
		return loadgen.Stats{}, false
	}
	return pool.Stats(), true
}
