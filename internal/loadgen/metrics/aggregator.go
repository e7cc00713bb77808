// Package metrics aggregates check results into pass rates and latency
// percentiles.
package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/olympisai/trafficgen/internal/loadgen"
	"github.com/olympisai/trafficgen/internal/loadgen/ramp"
)

// Aggregator collects Results using HDR histograms for latency.
//
// Aggregator implements loadgen.Sink and is safe for concurrent use.
// Counters are atomic; histograms are guarded by a mutex; a background
// goroutine emits one time bucket per BucketInterval until Stop.
type Aggregator struct {
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	// checks in first-seen order
	checks   map[string]*checkStats
	order    []string
	checksMu sync.RWMutex

	totalRequests     atomic.Int64
	passedRequests    atomic.Int64
	transportErrors   atomic.Int64
	assertionFailures atomic.Int64
	totalBytes        atomic.Int64

	activeVUs atomic.Int32
	targetVUs atomic.Int32
	phase     atomic.Value // ramp.Phase

	buckets *TimeBucketStore

	startTime time.Time

	emitterCtx    context.Context
	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config Config
}

// Config contains configuration for the aggregator.
type Config struct {
	// BucketInterval is the width of a time-series bucket (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets bounds retained buckets (default: 3600)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

type checkStats struct {
	mu                sync.Mutex
	hist              *hdrhistogram.Histogram
	count             int64
	passed            int64
	transportErrors   int64
	assertionFailures int64
	statusCodes       map[int]int64
}

// NewAggregator creates an aggregator with the default configuration.
func NewAggregator() *Aggregator {
	return NewAggregatorWithConfig(DefaultConfig())
}

// NewAggregatorWithConfig creates an aggregator and starts its emitter.
func NewAggregatorWithConfig(config Config) *Aggregator {
	def := DefaultConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = def.BucketInterval
	}
	if config.MaxBuckets <= 0 {
		config.MaxBuckets = def.MaxBuckets
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		checks:        make(map[string]*checkStats),
		buckets:       NewTimeBucketStore(config.MaxBuckets),
		startTime:     time.Now(),
		emitterCtx:    ctx,
		emitterCancel: cancel,
		config:        config,
	}
	a.phase.Store(ramp.PhaseSteady)

	a.emitterWg.Add(1)
	go a.runEmitter()

	return a
}

// Record adds one result.
func (a *Aggregator) Record(r loadgen.Result) {
	micros := a.clamp(r.Duration.Microseconds())

	// Transport failures have no meaningful latency.
	if r.Kind != loadgen.KindTransportError {
		a.latencyHistMu.Lock()
		_ = a.latencyHist.RecordValue(micros)
		a.latencyHistMu.Unlock()
	}

	a.totalRequests.Add(1)
	a.totalBytes.Add(r.BytesReceived)
	switch r.Kind {
	case loadgen.KindTransportError:
		a.transportErrors.Add(1)
	case loadgen.KindAssertionFailure:
		a.assertionFailures.Add(1)
	}
	if r.Passed {
		a.passedRequests.Add(1)
	}

	cs := a.check(r.Name)
	cs.mu.Lock()
	cs.count++
	if r.Passed {
		cs.passed++
	}
	switch r.Kind {
	case loadgen.KindTransportError:
		cs.transportErrors++
	case loadgen.KindAssertionFailure:
		cs.assertionFailures++
	}
	if r.StatusCode != 0 {
		cs.statusCodes[r.StatusCode]++
	}
	if r.Kind != loadgen.KindTransportError {
		_ = cs.hist.RecordValue(micros)
	}
	cs.mu.Unlock()

	a.buckets.RecordRequest(r.Passed, r.BytesReceived)
}

func (a *Aggregator) clamp(micros int64) int64 {
	if micros < a.config.HistogramMin {
		return a.config.HistogramMin
	}
	if micros > a.config.HistogramMax {
		return a.config.HistogramMax
	}
	return micros
}

// check returns the stats for name, creating them on first use.
func (a *Aggregator) check(name string) *checkStats {
	a.checksMu.RLock()
	cs, ok := a.checks[name]
	a.checksMu.RUnlock()
	if ok {
		return cs
	}

	a.checksMu.Lock()
	defer a.checksMu.Unlock()
	if cs, ok = a.checks[name]; ok {
		return cs
	}
	cs = &checkStats{
		hist:        hdrhistogram.New(a.config.HistogramMin, a.config.HistogramMax, a.config.HistogramSigFigs),
		statusCodes: make(map[int]int64),
	}
	a.checks[name] = cs
	a.order = append(a.order, name)
	return cs
}

// SetVUs updates the worker counts reported in snapshots and buckets.
func (a *Aggregator) SetVUs(active, target int) {
	a.activeVUs.Store(int32(active))
	a.targetVUs.Store(int32(target))
}

// SetPhase updates the current ramp phase.
func (a *Aggregator) SetPhase(phase ramp.Phase) {
	a.phase.Store(phase)
}

// Phase returns the current ramp phase.
func (a *Aggregator) Phase() ramp.Phase {
	return a.phase.Load().(ramp.Phase)
}

func (a *Aggregator) runEmitter() {
	defer a.emitterWg.Done()

	ticker := time.NewTicker(a.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.emitterCtx.Done():
			return
		case <-ticker.C:
			a.emitBucket()
		}
	}
}

func (a *Aggregator) emitBucket() {
	a.buckets.CreateBucket(
		a.totalRequests.Load(),
		a.passedRequests.Load(),
		int(a.activeVUs.Load()),
		a.Phase(),
	)
}

// Snapshot returns a point-in-time view of all metrics.
func (a *Aggregator) Snapshot() *Snapshot {
	a.latencyHistMu.Lock()
	latency := latencyStats(a.latencyHist)
	a.latencyHistMu.Unlock()

	elapsed := time.Since(a.startTime)
	total := a.totalRequests.Load()
	passed := a.passedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total) / elapsed.Seconds()
	}

	return &Snapshot{
		TotalRequests:     total,
		PassedRequests:    passed,
		FailedRequests:    total - passed,
		TransportErrors:   a.transportErrors.Load(),
		AssertionFailures: a.assertionFailures.Load(),
		TotalBytes:        a.totalBytes.Load(),
		PassRate:          rate(passed, total),
		Latency:           latency,
		RPS:               rps,
		CurrentRPS:        a.buckets.CurrentRPS(),
		ActiveVUs:         int(a.activeVUs.Load()),
		TargetVUs:         int(a.targetVUs.Load()),
		Phase:             a.Phase(),
		Checks:            a.Checks(),
		Elapsed:           elapsed,
		StartTime:         a.startTime,
		Timestamp:         time.Now(),
	}
}

// Checks returns per-check statistics in first-seen order.
func (a *Aggregator) Checks() []CheckStats {
	a.checksMu.RLock()
	names := make([]string, len(a.order))
	copy(names, a.order)
	a.checksMu.RUnlock()

	out := make([]CheckStats, 0, len(names))
	for _, name := range names {
		a.checksMu.RLock()
		cs := a.checks[name]
		a.checksMu.RUnlock()

		cs.mu.Lock()
		stats := CheckStats{
			Name:              name,
			Count:             cs.count,
			Passed:            cs.passed,
			Failed:            cs.count - cs.passed,
			TransportErrors:   cs.transportErrors,
			AssertionFailures: cs.assertionFailures,
			PassRate:          rate(cs.passed, cs.count),
			Latency:           latencyStats(cs.hist),
			StatusCodes:       sortedCodes(cs.statusCodes),
		}
		cs.mu.Unlock()
		out = append(out, stats)
	}
	return out
}

// TimeSeries returns the emitted time buckets.
func (a *Aggregator) TimeSeries() []*TimeBucket {
	return a.buckets.Buckets()
}

// Stop stops the emitter and writes a final bucket. It is idempotent.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		a.emitterCancel()
		a.emitterWg.Wait()
		a.emitBucket()
	})
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

func rate(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func sortedCodes(codes map[int]int64) []StatusCount {
	out := make([]StatusCount, 0, len(codes))
	for code, n := range codes {
		out = append(out, StatusCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests     int64         `json:"totalRequests"`
	PassedRequests    int64         `json:"passedRequests"`
	FailedRequests    int64         `json:"failedRequests"`
	TransportErrors   int64         `json:"transportErrors"`
	AssertionFailures int64         `json:"assertionFailures"`
	TotalBytes        int64         `json:"totalBytes"`
	PassRate          float64       `json:"passRate"`
	Latency           LatencyStats  `json:"latency"`
	RPS               float64       `json:"rps"`
	CurrentRPS        float64       `json:"currentRps"`
	ActiveVUs         int           `json:"activeVUs"`
	TargetVUs         int           `json:"targetVUs"`
	Phase             ramp.Phase    `json:"phase"`
	Checks            []CheckStats  `json:"checks"`
	Elapsed           time.Duration `json:"elapsed"`
	StartTime         time.Time     `json:"startTime"`
	Timestamp         time.Time     `json:"timestamp"`
}

// Check returns the stats for name, if any result was recorded for it.
func (s *Snapshot) Check(name string) (CheckStats, bool) {
	for _, c := range s.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckStats{}, false
}

// CheckStats aggregates all results of one named check.
type CheckStats struct {
	Name              string        `json:"name"`
	Count             int64         `json:"count"`
	Passed            int64         `json:"passed"`
	Failed            int64         `json:"failed"`
	TransportErrors   int64         `json:"transportErrors"`
	AssertionFailures int64         `json:"assertionFailures"`
	PassRate          float64       `json:"passRate"`
	Latency           LatencyStats  `json:"latency"`
	StatusCodes       []StatusCount `json:"statusCodes"`
}

// StatusCount is how often a status code was returned.
type StatusCount struct {
	Code  int   `json:"code"`
	Count int64 `json:"count"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
