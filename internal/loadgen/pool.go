package loadgen

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/olympisai/trafficgen/internal/loadgen/ramp"
)

// Defaults for PoolConfig.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultGracefulStop = 30 * time.Second
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Controller decides how many workers should be live
	Controller *ramp.Controller

	// Scenario every worker executes
	Scenario Scenario

	// Client is shared by all workers
	Client *http.Client

	Target Target
	Sink   Sink

	// Duration overrides the run lifetime. Zero means the ramp's total
	// duration; if that is zero too the run lasts until ctx is cancelled.
	Duration time.Duration

	// GracefulStop bounds how long Run waits for workers at the end
	GracefulStop time.Duration

	// PollInterval is how often the controller is consulted
	PollInterval time.Duration

	// Seed is the run seed; per-worker generators derive from it
	Seed int64

	Logger *zap.Logger
}

// Pool starts and stops workers so that the live count follows the ramp.
//
// Raising the target spawns workers at the next poll; lowering it stops the
// most recently started workers first, at their next call or iteration
// boundary.
type Pool struct {
	cfg    PoolConfig
	logger *zap.Logger

	startTime time.Time
	lifetime  time.Duration
	running   atomic.Bool

	// order holds live workers in spawn order; stopped ones are removed
	order   []*Worker
	orderMu sync.Mutex

	// alive holds every worker whose goroutine has not exited
	alive   map[int]*Worker
	aliveMu sync.RWMutex

	nextID         atomic.Int64
	targetVUs      atomic.Int32
	spawned        atomic.Int64
	doneIterations atomic.Int64
	wg             sync.WaitGroup
}

// NewPool validates cfg and returns an idle pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Controller == nil {
		return nil, errors.New("pool: ramp controller is required")
	}
	if cfg.Scenario == nil {
		return nil, errors.New("pool: scenario is required")
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(DefaultHTTPClientConfig())
	}
	if cfg.Sink == nil {
		cfg.Sink = Discard
	}
	if cfg.GracefulStop <= 0 {
		cfg.GracefulStop = DefaultGracefulStop
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	lifetime := cfg.Duration
	if lifetime <= 0 {
		lifetime = cfg.Controller.TotalDuration()
	}

	return &Pool{
		cfg:      cfg,
		logger:   cfg.Logger,
		lifetime: lifetime,
		alive:    make(map[int]*Worker),
	}, nil
}

// Lifetime is how long Run lasts; zero means until cancelled.
func (p *Pool) Lifetime() time.Duration {
	return p.lifetime
}

// Run drives the pool until its lifetime ends or ctx is cancelled, then
// stops every worker and waits up to GracefulStop for them.
func (p *Pool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pool is already running")
	}
	defer p.running.Store(false)

	p.orderMu.Lock()
	p.startTime = time.Now()
	p.orderMu.Unlock()

	var runCtx context.Context
	var cancel context.CancelFunc
	if p.lifetime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.lifetime)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	p.logger.Info("worker pool started",
		zap.String("scenario", p.cfg.Scenario.Name()),
		zap.Int("startVUs", p.cfg.Controller.Start()),
		zap.Int("stages", len(p.cfg.Controller.Stages())),
		zap.Duration("lifetime", p.lifetime))

	p.adjust(runCtx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			p.adjust(runCtx)
		}
	}

	notStopped := p.shutdown()
	if notStopped > 0 {
		p.logger.Warn("workers still busy after graceful stop",
			zap.Int("workers", notStopped),
			zap.Duration("gracefulStop", p.cfg.GracefulStop))
	}

	p.logger.Info("worker pool stopped",
		zap.Int64("spawned", p.spawned.Load()),
		zap.Int64("iterations", p.Iterations()))

	return nil
}

// adjust polls the controller and scales the pool to its target.
func (p *Pool) adjust(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	target := p.cfg.Controller.TargetAt(time.Since(p.StartTime()))
	p.targetVUs.Store(int32(target))
	p.scaleTo(ctx, target)
}

// scaleTo spawns workers, or retires the newest ones, until the live count
// equals target.
func (p *Pool) scaleTo(ctx context.Context, target int) {
	p.orderMu.Lock()
	defer p.orderMu.Unlock()

	// Drop workers that exited on their own so they get replaced.
	live := p.order[:0]
	for _, w := range p.order {
		if w.Running() {
			live = append(live, w)
		}
	}
	p.order = live

	current := len(p.order)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			p.order = append(p.order, p.spawn(ctx))
		}
	case target < current:
		for i := current - 1; i >= target; i-- {
			p.order[i].Retire()
			p.logger.Debug("worker retired", zap.Int("worker", p.order[i].ID))
		}
		p.order = p.order[:target]
	}
}

// spawn creates and starts a worker. Caller holds orderMu.
func (p *Pool) spawn(ctx context.Context) *Worker {
	id := int(p.nextID.Add(1))
	rnd := NewRand(WorkerSeed(p.cfg.Seed, id))

	w := NewWorker(WorkerConfig{
		ID:       id,
		Scenario: p.cfg.Scenario,
		Client:   p.cfg.Client,
		Target:   p.cfg.Target,
		Sink:     p.cfg.Sink,
		Random:   rnd,
		Strings:  rnd,
		Logger:   p.logger,
	})

	p.aliveMu.Lock()
	p.alive[id] = w
	p.aliveMu.Unlock()

	p.spawned.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.retire(w)
		w.Run(ctx)
	}()

	p.logger.Debug("worker spawned", zap.Int("worker", id))
	return w
}

// retire removes an exited worker from the alive set.
func (p *Pool) retire(w *Worker) {
	p.aliveMu.Lock()
	delete(p.alive, w.ID)
	p.doneIterations.Add(w.Iteration())
	p.aliveMu.Unlock()
}

// shutdown stops all workers and waits for them. It returns how many
// were still running when GracefulStop expired.
func (p *Pool) shutdown() int {
	p.orderMu.Lock()
	p.order = nil
	p.orderMu.Unlock()

	p.aliveMu.RLock()
	for _, w := range p.alive {
		w.RequestStop()
	}
	p.aliveMu.RUnlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.cfg.GracefulStop)
	defer timer.Stop()

	select {
	case <-done:
		return 0
	case <-timer.C:
		return p.ActiveVUs()
	}
}

// StartTime returns when Run started, or the zero time.
func (p *Pool) StartTime() time.Time {
	p.orderMu.Lock()
	defer p.orderMu.Unlock()
	return p.startTime
}

// IsRunning reports whether Run is in progress.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// TargetVUs returns the last target read from the controller.
func (p *Pool) TargetVUs() int {
	return int(p.targetVUs.Load())
}

// LiveVUs returns workers that have not been retired or stopped.
func (p *Pool) LiveVUs() int {
	p.orderMu.Lock()
	defer p.orderMu.Unlock()
	return len(p.order)
}

// ActiveVUs returns workers whose goroutine is still running, including
// those finishing their last call after a stop request.
func (p *Pool) ActiveVUs() int {
	p.aliveMu.RLock()
	defer p.aliveMu.RUnlock()
	return len(p.alive)
}

// Workers returns the live workers in spawn order.
func (p *Pool) Workers() []*Worker {
	p.orderMu.Lock()
	defer p.orderMu.Unlock()

	out := make([]*Worker, len(p.order))
	copy(out, p.order)
	return out
}

// Iterations returns iterations started across all workers.
func (p *Pool) Iterations() int64 {
	p.aliveMu.RLock()
	defer p.aliveMu.RUnlock()

	total := p.doneIterations.Load()
	for _, w := range p.alive {
		total += w.Iteration()
	}
	return total
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	StartTime    time.Time     `json:"startTime"`
	Elapsed      time.Duration `json:"elapsed"`
	Lifetime     time.Duration `json:"lifetime"`
	Progress     float64       `json:"progress"`
	TargetVUs    int           `json:"targetVUs"`
	LiveVUs      int           `json:"liveVUs"`
	ActiveVUs    int           `json:"activeVUs"`
	Spawned      int64         `json:"spawned"`
	Iterations   int64         `json:"iterations"`
	CurrentStage int           `json:"currentStage"`
	TotalStages  int           `json:"totalStages"`
	Phase        ramp.Phase    `json:"phase"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	start := p.StartTime()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	progress := 0.0
	if p.lifetime > 0 {
		progress = float64(elapsed) / float64(p.lifetime)
		if progress > 1 {
			progress = 1
		}
	}

	stage, _ := p.cfg.Controller.StageAt(elapsed)

	return Stats{
		StartTime:    start,
		Elapsed:      elapsed,
		Lifetime:     p.lifetime,
		Progress:     progress,
		TargetVUs:    p.TargetVUs(),
		LiveVUs:      p.LiveVUs(),
		ActiveVUs:    p.ActiveVUs(),
		Spawned:      p.spawned.Load(),
		Iterations:   p.Iterations(),
		CurrentStage: stage,
		TotalStages:  len(p.cfg.Controller.Stages()),
		Phase:        p.cfg.Controller.PhaseAt(elapsed),
	}
}
