package stubapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olympisai/trafficgen/internal/loadgen"
	"github.com/olympisai/trafficgen/internal/loadgen/config"
	"github.com/olympisai/trafficgen/internal/loadgen/engine"
	"github.com/olympisai/trafficgen/internal/loadgen/metrics"
)

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestServer_Routes(t *testing.T) {
	stub := New(Config{})
	srv := httptest.NewServer(stub.Handler())
	defer srv.Close()

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthcheck", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/user/profile", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/stores/extra", nil))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/healthcheck", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, del.StatusCode)

	resp, err := http.Post(srv.URL+"/stores/", "application/json", strings.NewReader(`{"name":"Store-ab","url":"xyz.store.com"}`))
	require.NoError(t, err)
	var store Store
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&store))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Store-ab", store.Name)
	assert.NotEmpty(t, store.SetupJobID)

	schema, err := loadgen.CompileSchema("store.json", loadgen.CreateStoreResponseSchema)
	require.NoError(t, err)
	body, _ := json.Marshal(store)
	assert.NoError(t, schema.Validate(body))

	var list struct {
		Count   int     `json:"count"`
		Results []Store `json:"results"`
	}
	getJSON(t, srv.URL+"/stores/", &list)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Results, 1)

	var j job
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/jobs/"+store.SetupJobID, &j))
	assert.Equal(t, JobQueued, j.Status)
	getJSON(t, srv.URL+"/jobs/"+store.SetupJobID, &j)
	assert.Equal(t, JobCompleted, j.Status)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/jobs/missing", nil))
	assert.Len(t, stub.Stores(), 1)
}

func TestServer_RejectsBadStore(t *testing.T) {
	srv := httptest.NewServer(New(Config{}).Handler())
	defer srv.Close()

	for _, body := range []string{`{"name":""}`, `not json`} {
		resp, err := http.Post(srv.URL+"/stores/", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestServer_FailureInjection(t *testing.T) {
	stub := New(Config{FailureRate: 1, Seed: 3})
	srv := httptest.NewServer(stub.Handler())
	defer srv.Close()

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/healthcheck", nil))
	}
	assert.Equal(t, int64(5), stub.Requests())
	assert.Equal(t, int64(5), stub.Failures())
}

func TestServer_Latency(t *testing.T) {
	srv := httptest.NewServer(New(Config{Latency: 30 * time.Millisecond}).Handler())
	defer srv.Close()

	start := time.Now()
	getJSON(t, srv.URL+"/healthcheck", nil)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestServer_ListenAndServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Config{}).ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

// A stress run with schema validation and job tracking passes every check
// against the stub.
func TestServer_StressRun(t *testing.T) {
	stub := New(Config{Seed: 1})
	srv := httptest.NewServer(stub.Handler())
	defer srv.Close()

	cfg := &config.Config{
		BaseURL:          srv.URL,
		Scenario:         loadgen.ScenarioStress,
		StartVUs:         2,
		Seed:             5,
		ValidateResponse: true,
		TrackJob:         true,
		GracefulStop:     config.Duration(2 * time.Second),
		Pacing:           &config.PacingConfig{Min: config.Duration(5 * time.Millisecond), Max: config.Duration(10 * time.Millisecond)},
		Stages:           []config.StageConfig{{Duration: config.Duration(300 * time.Millisecond), Target: 3}},
		Thresholds: metrics.Thresholds{
			PerCheck: map[string]float64{loadgen.CheckJobCreated: 1, loadgen.CheckJobStatus: 1},
		},
	}

	eng, err := engine.NewEngine(cfg, engine.Options{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Passed, "thresholds: %+v", result.Thresholds)

	created, ok := result.Metrics.Check(loadgen.CheckJobCreated)
	require.True(t, ok)
	assert.Positive(t, created.Passed)
	assert.LessOrEqual(t, created.Passed, int64(len(stub.Stores())))
}
