// Package loadgen runs ramping synthetic traffic against the store API.
//
// A Pool keeps a number of Workers alive that follows a ramp.Controller.
// Every Worker repeatedly executes one iteration of its Scenario and hands
// a Result per HTTP call to a Sink.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// WorkerState represents the lifecycle state of a Worker.
type WorkerState int32

const (
	// WorkerIdle indicates the worker is between iterations.
	WorkerIdle WorkerState = iota
	// WorkerRunning indicates an iteration is in progress.
	WorkerRunning
	// WorkerStopping indicates a stop was requested.
	WorkerStopping
	// WorkerStopped indicates the worker loop has exited.
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var errWorkerPanic = errors.New("scenario panicked")

// WorkerConfig bundles what a Worker needs. Everything except Random and
// Strings is read-only and may be shared between workers.
type WorkerConfig struct {
	ID       int
	Scenario Scenario
	Client   *http.Client
	Target   Target
	Sink     Sink
	Random   RandomSource
	Strings  StringGenerator
	Logger   *zap.Logger
}

// Worker is one simulated client looping over its Scenario.
type Worker struct {
	ID int

	scenario Scenario
	client   *http.Client
	target   Target
	sink     Sink
	random   RandomSource
	strings  StringGenerator
	logger   *zap.Logger

	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	retired  atomic.Bool

	iteration atomic.Int64
	calls     atomic.Int64
}

// NewWorker creates an idle worker. Nil collaborators get harmless defaults.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Sink == nil {
		cfg.Sink = Discard
	}
	if cfg.Random == nil || cfg.Strings == nil {
		r := NewRand(WorkerSeed(RunSeed(0), cfg.ID))
		if cfg.Random == nil {
			cfg.Random = r
		}
		if cfg.Strings == nil {
			cfg.Strings = r
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Worker{
		ID:       cfg.ID,
		scenario: cfg.Scenario,
		client:   cfg.Client,
		target:   cfg.Target,
		sink:     cfg.Sink,
		random:   cfg.Random,
		strings:  cfg.Strings,
		logger:   cfg.Logger.With(zap.Int("worker", cfg.ID)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Running reports whether the worker loop has not exited yet.
func (w *Worker) Running() bool {
	return w.State() != WorkerStopped
}

// Iteration returns the number of iterations started.
func (w *Worker) Iteration() int64 {
	return w.iteration.Load()
}

// Calls returns the number of HTTP calls issued.
func (w *Worker) Calls() int64 {
	return w.calls.Load()
}

// Random is the worker's own random source.
func (w *Worker) Random() RandomSource {
	return w.random
}

// Strings is the worker's own string generator.
func (w *Worker) Strings() StringGenerator {
	return w.strings
}

// Run loops over iterations until the worker is stopped, retired or ctx
// is done. Retirement is only honoured at the top of an iteration.
func (w *Worker) Run(ctx context.Context) {
	defer w.MarkStopped()

	for {
		if w.halted(ctx) || w.retired.Load() {
			return
		}

		if err := w.RunIteration(ctx); err != nil {
			if errors.Is(err, errWorkerPanic) {
				return
			}
			if ctx.Err() != nil || w.State() == WorkerStopping {
				return
			}
		}
	}
}

// RunIteration executes a single scenario iteration.
//
// Per-call failures are reported through the sink and never returned; the
// error is non-nil only when the worker was already stopping or the
// scenario panicked.
func (w *Worker) RunIteration(ctx context.Context) (err error) {
	if !w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerRunning)) {
		return fmt.Errorf("worker %d is %s", w.ID, w.State())
	}
	w.iteration.Add(1)

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("scenario iteration panicked",
				zap.Any("panic", r),
				zap.Int64("iteration", w.iteration.Load()))
			err = fmt.Errorf("%w: %v", errWorkerPanic, r)
		}
		w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerIdle))
	}()

	w.scenario.Iterate(ctx, w)
	return nil
}

// Call describes one checked HTTP request.
type Call struct {
	// Name is the check name reported in the Result
	Name string

	Method string
	Path   string

	// JSON, when non-nil, is encoded as the body with a JSON content type
	JSON any

	Headers map[string]string

	// ExpectStatus defaults to 200
	ExpectStatus int

	// Validate runs on the body after the status matched
	Validate func(body []byte) error

	// ExtractID is a gjson path copied into Result.ResourceID
	ExtractID string
}

// Do issues call and records its Result. It returns false without issuing
// anything once the worker has been asked to stop or ctx is done.
//
// The request itself is detached from ctx cancellation: an in-flight call
// completes or hits the client timeout.
func (w *Worker) Do(ctx context.Context, call Call) (Result, bool) {
	if w.halted(ctx) {
		return Result{}, false
	}
	w.calls.Add(1)

	start := time.Now()
	res := Result{
		Name:      call.Name,
		WorkerID:  w.ID,
		Iteration: w.iteration.Load(),
		Timestamp: start,
	}

	req, err := w.buildRequest(context.WithoutCancel(ctx), call)
	if err != nil {
		res.Kind = KindTransportError
		res.Err = fmt.Errorf("%w: failed to build request: %v", ErrTransport, err)
		w.sink.Record(res)
		return res, true
	}

	resp, err := w.client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Kind = KindTransportError
		res.Err = fmt.Errorf("%w: %v", ErrTransport, err)
		w.logger.Debug("request failed", zap.String("check", call.Name), zap.Error(err))
		w.sink.Record(res)
		return res, true
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	res.StatusCode = resp.StatusCode
	res.BytesReceived = int64(len(body))
	if err != nil {
		res.Kind = KindTransportError
		res.Err = fmt.Errorf("%w: failed to read response body: %v", ErrTransport, err)
		w.sink.Record(res)
		return res, true
	}

	expect := call.ExpectStatus
	if expect == 0 {
		expect = http.StatusOK
	}

	switch {
	case resp.StatusCode != expect:
		res.Kind = KindAssertionFailure
		res.Err = fmt.Errorf("%w: expected status %d, got %d", ErrAssertion, expect, resp.StatusCode)
	case call.Validate != nil:
		if verr := call.Validate(body); verr != nil {
			res.Kind = KindAssertionFailure
			res.Err = fmt.Errorf("%w: %v", ErrAssertion, verr)
		}
	}
	res.Passed = res.Kind == KindOK

	if res.Passed && call.ExtractID != "" {
		if id := gjson.GetBytes(body, call.ExtractID); id.Exists() {
			res.ResourceID = id.String()
		}
	}

	w.sink.Record(res)
	return res, true
}

// buildRequest builds an HTTP request from the call.
func (w *Worker) buildRequest(ctx context.Context, call Call) (*http.Request, error) {
	var body io.Reader
	if call.JSON != nil {
		data, err := json.Marshal(call.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, w.target.URL(call.Path), body)
	if err != nil {
		return nil, err
	}

	for key, value := range w.target.Headers {
		req.Header.Set(key, value)
	}
	if w.target.UserAgent != "" {
		req.Header.Set("User-Agent", w.target.UserAgent)
	}
	if call.JSON != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range call.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// Sleep pauses for d. It returns false if the wait was cut short by a stop
// request or ctx.
func (w *Worker) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !w.halted(ctx)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// halted reports whether no further work may start.
func (w *Worker) halted(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop signals the worker to stop. The current HTTP call, if any,
// is allowed to finish; no further call is started.
func (w *Worker) RequestStop() {
	if w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopping)) ||
		w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerStopping)) {
		w.closeStop()
	}
}

// Retire asks the worker to exit at its next iteration boundary. Unlike
// RequestStop, the iteration in progress runs to completion, calls and
// pacing included.
func (w *Worker) Retire() {
	w.retired.Store(true)
}

// Retired reports whether Retire was called.
func (w *Worker) Retired() bool {
	return w.retired.Load()
}

// MarkStopped marks the worker as fully stopped.
func (w *Worker) MarkStopped() {
	if WorkerState(w.state.Swap(int32(WorkerStopped))) == WorkerStopped {
		return
	}
	// A stop may never have been requested (ctx cancel or panic).
	w.closeStop()
	close(w.doneCh)
}

func (w *Worker) closeStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed once the worker loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}

// WaitForStop waits for the worker to stop with a timeout.
//
// Returns true if the worker stopped within the timeout, false otherwise.
func (w *Worker) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.doneCh:
		return true
	case <-timer.C:
		return false
	}
}
