package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olympisai/trafficgen/internal/loadgen"
	"github.com/olympisai/trafficgen/internal/loadgen/config"
	"github.com/olympisai/trafficgen/internal/loadgen/ramp"
	"github.com/olympisai/trafficgen/internal/stubapi"
)

const quickConfig = `name: cli test
scenario: load
startVUs: 1
gracefulStop: 2s
createProbability: 0
pacing:
  min: 5ms
  max: 10ms
stages:
  - duration: 200ms
    target: 2
  - duration: 200ms
    target: 0
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append(args, "--log-level", "error")
	err := ExecuteArgs(context.Background(), args, &stdout, &stderr)
	return stdout.String() + stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func apiServer(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "trafficgen "+version)
}

func TestProfiles_List(t *testing.T) {
	out, err := execute(t, "profiles")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "2m0s:20,10m0s:20,2m0s:0")
	assert.Contains(t, out, "20m0s:100")
}

func TestProfiles_ShowRoundTrips(t *testing.T) {
	out, err := execute(t, "profiles", "stress")
	require.NoError(t, err)
	assert.Contains(t, out, "scenario: stress")

	cfg, err := config.ParseConfig([]byte(out), "stress.yaml")
	require.NoError(t, err)
	assert.Equal(t, loadgen.ScenarioStress, cfg.Scenario)
	assert.Equal(t, 10, cfg.StartVUs)
	assert.Equal(t, 100, cfg.MaxVUs())
}

func TestProfiles_Unknown(t *testing.T) {
	_, err := execute(t, "profiles", "soak")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	good := writeFile(t, "good.yaml", "baseUrl: http://localhost:8000\n"+quickConfig)
	bad := writeFile(t, "bad.yaml", "baseUrl: ftp://nowhere\nstartVUs: -2\n")

	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+good)
	assert.Contains(t, out, "peak 2 VUs")

	out, err = execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "✗ "+bad)
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestBuildConfig(t *testing.T) {
	o := &runOptions{}
	cmd := newRunCmd(&app{}, o)
	require.NoError(t, cmd.ParseFlags([]string{
		"--scenario", "stress",
		"--base-url", "http://localhost:9000",
		"--stages", "10s:5,20s:0",
		"--seed", "42",
		"-H", "Authorization: Bearer abc",
		"--checks-threshold", "0.97",
		"--track-job",
	}))

	cfg, err := o.buildConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, loadgen.ScenarioStress, cfg.Scenario)
	assert.Equal(t, 10, cfg.StartVUs, "start VUs come from the stress profile")
	assert.Equal(t, "10s:5,20s:0", config.FormatStages(cfg.Stages))
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, "Bearer abc", cfg.Headers["Authorization"])
	assert.Equal(t, 0.97, cfg.Thresholds.Checks)
	assert.True(t, cfg.TrackJob)
	assert.False(t, cfg.ValidateResponse)
	assert.Nil(t, cfg.CreateProbability)
}

func TestBuildConfig_Defaults(t *testing.T) {
	o := &runOptions{}
	cmd := newRunCmd(&app{}, o)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := o.buildConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, loadgen.ScenarioLoad, cfg.Scenario)
	assert.Equal(t, 3, len(cfg.Stages))
}

func TestBuildConfig_BadFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--stages", "fast:10"},
		{"-H", "no separator"},
		{"--profile", "soak"},
	} {
		o := &runOptions{}
		cmd := newRunCmd(&app{}, o)
		require.NoError(t, cmd.ParseFlags(args))
		_, err := o.buildConfig(cmd)
		assert.Error(t, err, "%v", args)
	}
}

func TestRun_Passes(t *testing.T) {
	srv := httptest.NewServer(stubapi.New(stubapi.Config{}).Handler())
	defer srv.Close()

	cfgPath := writeFile(t, "run.yaml", quickConfig)
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "result.json")
	htmlPath := filepath.Join(dir, "result.html")

	start := time.Now()
	out, err := execute(t, "run",
		"--config", cfgPath,
		"--base-url", srv.URL,
		"--seed", "9",
		"--checks-threshold", "0.9",
		"--quiet",
		"--output", resultPath,
		"--html", htmlPath)
	require.NoError(t, err, out)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, "PASSED", strings.TrimSpace(out))

	data, err := os.ReadFile(resultPath)
	require.NoError(t, err)

	var result struct {
		Seed    int64 `json:"seed"`
		Passed  bool  `json:"passed"`
		Metrics struct {
			TotalRequests int64 `json:"totalRequests"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, int64(9), result.Seed)
	assert.True(t, result.Passed)
	assert.Positive(t, result.Metrics.TotalRequests)

	page, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(page), "cli test")
}

func TestRun_ThresholdFailure(t *testing.T) {
	srv := apiServer(http.StatusServiceUnavailable)
	defer srv.Close()

	cfgPath := writeFile(t, "run.yaml", quickConfig)

	out, err := execute(t, "run",
		"--config", cfgPath,
		"--base-url", srv.URL,
		"--checks-threshold", "0.9",
		"--no-color")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrThresholdsFailed))
	assert.Equal(t, 99, ExitCode(err))
	assert.Contains(t, out, "Failed ✗")
	assert.Contains(t, out, "503×")
	assert.NotContains(t, out, "Error:")
}

func TestRun_InvalidConfig(t *testing.T) {
	out, err := execute(t, "run", "--base-url", "not a url", "--start-vus", "-1")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, out, "Error:")
	assert.True(t, errors.Is(err, ramp.ErrInvalidConfig))
}

func TestRun_ConfigAndProfileExclusive(t *testing.T) {
	_, err := execute(t, "run", "--config", "x.yaml", "--profile", "load")
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 99, ExitCode(ErrThresholdsFailed))
}
