package loadgen_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olympisai/trafficgen/internal/loadgen"
)

// fixedSource always returns the same draw.
type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

// storeAPI is a minimal stand-in for the store service.
type storeAPI struct {
	mu         sync.Mutex
	hits       map[string]int
	postStatus int
	postBody   string
	lastPost   map[string]string
	lastHeader http.Header
	total      atomic.Int64
}

func newStoreAPI() *storeAPI {
	return &storeAPI{
		hits:       make(map[string]int),
		postStatus: http.StatusOK,
		postBody:   `{"id":"3b1c","name":"n","url":"u","setup_job_id":"job-42"}`,
	}
}

func (s *storeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.total.Add(1)

	s.mu.Lock()
	key := r.Method + " " + r.URL.Path
	s.hits[key]++
	s.lastHeader = r.Header.Clone()
	status := s.postStatus
	postBody := s.postBody
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		s.lastPost = map[string]string{}
		_ = json.Unmarshal(body, &s.lastPost)
	}
	s.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/stores/":
		w.WriteHeader(status)
		_, _ = w.Write([]byte(postBody))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/jobs/"):
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	case r.Method == http.MethodGet:
		_, _ = w.Write([]byte(`{"ok":true}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *storeAPI) hitCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[key]
}

func quickOptions() loadgen.ScenarioOptions {
	opts := loadgen.DefaultScenarioOptions()
	opts.Pacer = loadgen.Pacer{}
	return opts
}

func newTestWorker(t *testing.T, scenario loadgen.Scenario, baseURL string, src loadgen.RandomSource, sink loadgen.Sink) *loadgen.Worker {
	t.Helper()
	return loadgen.NewWorker(loadgen.WorkerConfig{
		ID:       1,
		Scenario: scenario,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Target:   loadgen.Target{BaseURL: baseURL},
		Sink:     sink,
		Random:   src,
		Strings:  loadgen.NewRand(99),
	})
}

func TestLoadScenario_AllPassWithoutCreation(t *testing.T) {
	api := newStoreAPI()
	server := httptest.NewServer(api)
	defer server.Close()

	scenario, err := loadgen.NewScenario(loadgen.ScenarioLoad, quickOptions())
	require.NoError(t, err)

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenario, server.URL, fixedSource(0.5), rec)
	require.NoError(t, w.RunIteration(context.Background()))

	results := rec.Results()
	require.Len(t, results, 3)
	names := []string{results[0].Name, results[1].Name, results[2].Name}
	assert.Equal(t, []string{loadgen.CheckHealthcheck, loadgen.CheckProfile, loadgen.CheckList}, names)
	for _, r := range results {
		assert.True(t, r.Passed, r.Name)
		assert.Equal(t, http.StatusOK, r.StatusCode)
		assert.Equal(t, loadgen.KindOK, r.Kind)
	}
	assert.Equal(t, 0, api.hitCount("POST /stores/"))
}

func TestLoadScenario_AllPassWithCreation(t *testing.T) {
	api := newStoreAPI()
	server := httptest.NewServer(api)
	defer server.Close()

	scenario, err := loadgen.NewScenario(loadgen.ScenarioLoad, quickOptions())
	require.NoError(t, err)

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenario, server.URL, fixedSource(0.01), rec)
	require.NoError(t, w.RunIteration(context.Background()))

	results := rec.Results()
	require.Len(t, results, 4)
	assert.Equal(t, loadgen.CheckJobCreated, results[3].Name)
	for _, r := range results {
		assert.True(t, r.Passed, r.Name)
	}
	assert.Equal(t, "job-42", results[3].ResourceID)
	assert.Equal(t, 1, api.hitCount("POST /stores/"))
}

func TestLoadScenario_CreationRate(t *testing.T) {
	var posts, iterations atomic.Int64
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{}`)), Header: http.Header{}}, nil
	})}

	scenario, err := loadgen.NewScenario(loadgen.ScenarioLoad, quickOptions())
	require.NoError(t, err)

	rnd := loadgen.NewRand(2024)
	w := loadgen.NewWorker(loadgen.WorkerConfig{
		ID: 1, Scenario: scenario, Client: client,
		Target: loadgen.Target{BaseURL: "http://store.test"},
		Random: rnd, Strings: rnd,
	})

	const n = 4000
	for i := 0; i < n; i++ {
		require.NoError(t, w.RunIteration(context.Background()))
		iterations.Add(1)
	}

	rate := float64(posts.Load()) / float64(iterations.Load())
	assert.InDelta(t, loadgen.DefaultCreateProbability, rate, 0.02)
}

func TestStressScenario_PostsGeneratedStore(t *testing.T) {
	api := newStoreAPI()
	server := httptest.NewServer(api)
	defer server.Close()

	scenario, err := loadgen.NewScenario(loadgen.ScenarioStress, quickOptions())
	require.NoError(t, err)

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenario, server.URL, fixedSource(0.5), rec)
	require.NoError(t, w.RunIteration(context.Background()))

	results := rec.Results()
	require.Len(t, results, 1)
	assert.Equal(t, loadgen.CheckJobCreated, results[0].Name)
	assert.True(t, results[0].Passed)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Regexp(t, storeNamePattern, api.lastPost["name"])
	assert.Regexp(t, storeURLPattern, api.lastPost["url"])
	assert.Equal(t, "application/json", api.lastHeader.Get("Content-Type"))
}

func TestStressScenario_ServerErrorDoesNotAbort(t *testing.T) {
	api := newStoreAPI()
	api.postStatus = http.StatusInternalServerError
	server := httptest.NewServer(api)
	defer server.Close()

	scenario, err := loadgen.NewScenario(loadgen.ScenarioStress, quickOptions())
	require.NoError(t, err)

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenario, server.URL, fixedSource(0.5), rec)

	require.NoError(t, w.RunIteration(context.Background()))
	results := rec.Results()
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, http.StatusInternalServerError, results[0].StatusCode)
	assert.Equal(t, loadgen.KindAssertionFailure, results[0].Kind)
	assert.True(t, errors.Is(results[0].Err, loadgen.ErrAssertion))

	// The next iteration runs normally.
	require.NoError(t, w.RunIteration(context.Background()))
	assert.Len(t, rec.Results(), 2)
	assert.Equal(t, int64(2), w.Iteration())
}

func TestLoadScenario_TransportErrorContinues(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	scenario, err := loadgen.NewScenario(loadgen.ScenarioLoad, quickOptions())
	require.NoError(t, err)

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenario, baseURL, fixedSource(0.5), rec)
	require.NoError(t, w.RunIteration(context.Background()))

	results := rec.Results()
	require.Len(t, results, 3, "every step runs even when earlier ones fail")
	for _, r := range results {
		assert.False(t, r.Passed)
		assert.Zero(t, r.StatusCode)
		assert.Equal(t, loadgen.KindTransportError, r.Kind)
		assert.True(t, errors.Is(r.Err, loadgen.ErrTransport))
	}
}

func TestStoreCreation_ValidateAndTrackJob(t *testing.T) {
	api := newStoreAPI()
	server := httptest.NewServer(api)
	defer server.Close()

	opts := quickOptions()
	opts.ValidateResponse = true
	opts.TrackJob = true
	scenario, err := loadgen.NewScenario(loadgen.ScenarioStress, opts)
	require.NoError(t, err)

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenario, server.URL, fixedSource(0.5), rec)
	require.NoError(t, w.RunIteration(context.Background()))

	results := rec.Results()
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.Equal(t, loadgen.CheckJobStatus, results[1].Name)
	assert.True(t, results[1].Passed)
	assert.Equal(t, 1, api.hitCount("GET /jobs/job-42"))
}

func TestStoreCreation_SchemaMismatchFails(t *testing.T) {
	api := newStoreAPI()
	api.postBody = `{"id":"3b1c"}`
	server := httptest.NewServer(api)
	defer server.Close()

	opts := quickOptions()
	opts.ValidateResponse = true
	opts.TrackJob = true
	scenario, err := loadgen.NewScenario(loadgen.ScenarioStress, opts)
	require.NoError(t, err)

	rec := &loadgen.Recorder{}
	w := newTestWorker(t, scenario, server.URL, fixedSource(0.5), rec)
	require.NoError(t, w.RunIteration(context.Background()))

	results := rec.Results()
	require.Len(t, results, 1, "job is not tracked after a failed creation")
	assert.False(t, results[0].Passed)
	assert.Equal(t, http.StatusOK, results[0].StatusCode)
	assert.Equal(t, loadgen.KindAssertionFailure, results[0].Kind)
}

func TestNewScenario_Unknown(t *testing.T) {
	_, err := loadgen.NewScenario("soak", loadgen.DefaultScenarioOptions())
	assert.Error(t, err)
}

func TestWorker_TargetHeaders(t *testing.T) {
	api := newStoreAPI()
	server := httptest.NewServer(api)
	defer server.Close()

	scenario, err := loadgen.NewScenario(loadgen.ScenarioLoad, quickOptions())
	require.NoError(t, err)

	w := loadgen.NewWorker(loadgen.WorkerConfig{
		ID:       1,
		Scenario: scenario,
		Target: loadgen.Target{
			BaseURL:   server.URL + "/",
			Headers:   map[string]string{"Authorization": "Bearer token"},
			UserAgent: "trafficgen-test",
		},
		Random: fixedSource(0.9),
	})
	require.NoError(t, w.RunIteration(context.Background()))

	assert.Equal(t, 1, api.hitCount("GET /healthcheck"))
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "Bearer token", api.lastHeader.Get("Authorization"))
	assert.Equal(t, "trafficgen-test", api.lastHeader.Get("User-Agent"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
