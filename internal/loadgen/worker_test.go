package loadgen_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olympisai/trafficgen/internal/loadgen"
)

// scenarioFunc adapts a function to the Scenario interface.
type scenarioFunc func(ctx context.Context, w *loadgen.Worker)

func (f scenarioFunc) Name() string { return "func" }
func (f scenarioFunc) Iterate(ctx context.Context, w *loadgen.Worker) { f(ctx, w) }

func TestWorker_StateTransitions(t *testing.T) {
	var seen loadgen.WorkerState
	var w *loadgen.Worker
	w = loadgen.NewWorker(loadgen.WorkerConfig{
		ID: 1,
		Scenario: scenarioFunc(func(ctx context.Context, _ *loadgen.Worker) {
			seen = w.State()
		}),
	})

	assert.Equal(t, loadgen.WorkerIdle, w.State())
	require.NoError(t, w.RunIteration(context.Background()))
	assert.Equal(t, loadgen.WorkerRunning, seen)
	assert.Equal(t, loadgen.WorkerIdle, w.State())

	w.RequestStop()
	assert.Equal(t, loadgen.WorkerStopping, w.State())
	assert.Error(t, w.RunIteration(context.Background()))

	w.MarkStopped()
	assert.Equal(t, loadgen.WorkerStopped, w.State())
	assert.False(t, w.Running())
	assert.True(t, w.WaitForStop(time.Second))

	// Repeated calls are harmless.
	w.RequestStop()
	w.MarkStopped()
	assert.Equal(t, "stopped", w.State().String())
}

func TestWorker_NoCallsAfterStop(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond)
	}))
	defer server.Close()

	scenario, err := loadgen.NewScenario(loadgen.ScenarioLoad, quickOptions())
	require.NoError(t, err)

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenario, server.URL, fixedSource(0.5), rec)

	go w.Run(context.Background())

	require.Eventually(t, func() bool { return hits.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
	w.RequestStop()
	require.True(t, w.WaitForStop(5*time.Second))

	// The in-flight call completes and is recorded; nothing new starts.
	calls := w.Calls()
	assert.Equal(t, calls, int64(len(rec.Results())))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, hits.Load())
	assert.Equal(t, loadgen.WorkerStopped, w.State())
}

func TestWorker_StopInterruptsSleep(t *testing.T) {
	opts := loadgen.DefaultScenarioOptions()
	opts.Pacer = loadgen.Pacer{Min: time.Hour, Max: time.Hour}
	scenario, err := loadgen.NewScenario(loadgen.ScenarioStress, opts)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	w := newTestWorker(t, scenario, server.URL, fixedSource(0.5), nil)
	go w.Run(context.Background())

	require.Eventually(t, func() bool { return w.Calls() == 1 }, 5*time.Second, 5*time.Millisecond)
	w.RequestStop()
	assert.True(t, w.WaitForStop(2*time.Second))
	assert.Equal(t, int64(1), w.Iteration())
}

func TestWorker_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var iterations atomic.Int64
	w := loadgen.NewWorker(loadgen.WorkerConfig{
		ID: 3,
		Scenario: scenarioFunc(func(ctx context.Context, w *loadgen.Worker) {
			iterations.Add(1)
			w.Sleep(ctx, time.Millisecond)
		}),
	})

	go w.Run(ctx)
	require.Eventually(t, func() bool { return iterations.Load() > 3 }, 5*time.Second, time.Millisecond)
	cancel()

	assert.True(t, w.WaitForStop(2*time.Second))
	assert.False(t, w.Running())
}

func TestWorker_PanicEndsOnlyThatWorker(t *testing.T) {
	w := loadgen.NewWorker(loadgen.WorkerConfig{
		ID: 4,
		Scenario: scenarioFunc(func(context.Context, *loadgen.Worker) {
			panic("boom")
		}),
	})

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after panic")
	}
	assert.Equal(t, loadgen.WorkerStopped, w.State())
	assert.Equal(t, int64(1), w.Iteration())
}

func TestWorker_DoAfterStopIssuesNothing(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenarioFunc(func(context.Context, *loadgen.Worker) {}), server.URL, fixedSource(0), rec)
	w.RequestStop()

	_, ok := w.Do(context.Background(), loadgen.Call{Name: "x", Method: http.MethodGet, Path: "/"})
	assert.False(t, ok)
	assert.Zero(t, hits.Load())
	assert.Empty(t, rec.Results())
	assert.False(t, w.Sleep(context.Background(), time.Hour))
}

func TestWorker_InFlightCallSurvivesCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenarioFunc(func(context.Context, *loadgen.Worker) {}), server.URL, fixedSource(0), rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan loadgen.Result, 1)
	go func() {
		res, _ := w.Do(ctx, loadgen.Call{Name: "slow", Method: http.MethodGet, Path: "/"})
		done <- res
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case res := <-done:
		assert.True(t, res.Passed)
		assert.Equal(t, http.StatusOK, res.StatusCode)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not complete")
	}
}
