package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olympisai/trafficgen/internal/loadgen/config"
	"github.com/olympisai/trafficgen/internal/loadgen/engine"
	"github.com/olympisai/trafficgen/internal/loadgen/output"
)

type runOptions struct {
	configFile string
	profile    string

	baseURL           string
	scenario          string
	stages            string
	startVUs          int
	duration          time.Duration
	gracefulStop      time.Duration
	seed              int64
	timeout           time.Duration
	headers           []string
	userAgent         string
	insecure          bool
	validateResponse  bool
	trackJob          bool
	createProbability float64
	checksThreshold   float64
	metricsAddr       string

	outputPath       string
	htmlPath         string
	quiet            bool
	noColor          bool
	progressInterval time.Duration
}

func newRunCmd(a *app, o *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a traffic generation against the store API",
		Long: `Run one of the built-in scenarios along a staged ramp.

The configuration comes from a file (--config), a built-in profile
(--profile), or the profile named after --scenario. Flags override
individual values.

Examples:
  trafficgen run --profile load --base-url https://staging.example.com
  trafficgen run --config stress.yaml --seed 42 --output result.json
  trafficgen run --scenario stress --base-url http://localhost:8000 \
    --stages "30s:10,1m:10,30s:0" --checks-threshold 0.99`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, a.logger)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configFile, "config", "c", "", "configuration file (.yaml, .yml or .json)")
	f.StringVarP(&o.profile, "profile", "p", "", fmt.Sprintf("built-in profile %v", config.ProfileNames()))

	f.StringVarP(&o.baseURL, "base-url", "u", "", "base URL of the store API")
	f.StringVarP(&o.scenario, "scenario", "s", "", "scenario to run (load, stress)")
	f.StringVar(&o.stages, "stages", "", `ramp stages as duration:target, e.g. "2m:20,10m:20,2m:0"`)
	f.IntVar(&o.startVUs, "start-vus", 0, "workers at the start of the ramp")
	f.DurationVar(&o.duration, "duration", 0, "overall run length (default: sum of stages)")
	f.DurationVar(&o.gracefulStop, "graceful-stop", 0, "how long to wait for in-flight calls at the end")
	f.Int64Var(&o.seed, "seed", 0, "random seed for reproducible payloads and pacing (default: time based)")
	f.DurationVar(&o.timeout, "timeout", 0, "per-request timeout")
	f.StringArrayVarP(&o.headers, "header", "H", nil, `extra request header "Name: value" (repeatable)`)
	f.StringVar(&o.userAgent, "user-agent", "", "User-Agent header")
	f.BoolVar(&o.insecure, "insecure", false, "skip TLS certificate verification")
	f.BoolVar(&o.validateResponse, "validate-response", false, "validate store creation responses against their schema")
	f.BoolVar(&o.trackJob, "track-job", false, "fetch the setup job after each store creation")
	f.Float64Var(&o.createProbability, "create-probability", 0, "chance of a store creation per load iteration")
	f.Float64Var(&o.checksThreshold, "checks-threshold", 0, "minimum overall check pass rate (0 to 1)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	f.StringVarP(&o.outputPath, "output", "o", "", `write the JSON result to this file ("-" for stdout)`)
	f.StringVar(&o.htmlPath, "html", "", "write an HTML report to this file")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "only print PASSED or FAILED")
	f.BoolVar(&o.noColor, "no-color", false, "disable colored output")
	f.DurationVar(&o.progressInterval, "progress-interval", engine.DefaultProgressInterval, "how often live progress is printed")

	cmd.MarkFlagsMutuallyExclusive("config", "profile")

	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := o.buildConfig(cmd)
	if err != nil {
		return err
	}

	var consoleOut io.Writer = cmd.OutOrStdout()
	if o.outputPath == "-" {
		consoleOut = cmd.ErrOrStderr()
	}
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  consoleOut,
		Quiet:   o.quiet,
		NoColor: o.noColor,
	})

	eng, err := engine.NewEngine(cfg, engine.Options{
		Logger:           logger,
		OnProgress:       console.Update,
		ProgressInterval: o.progressInterval,
	})
	if err != nil {
		return err
	}

	console.PrintHeader(eng)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := eng.Run(ctx)
	if result == nil {
		return runErr
	}

	console.PrintSummary(result)

	if o.outputPath != "" {
		if err := output.WriteJSONFile(o.outputPath, result); err != nil {
			return err
		}
		if o.outputPath != "-" {
			logger.Info("result written", zap.String("path", o.outputPath))
		}
	}

	if o.htmlPath != "" {
		if err := output.WriteHTML(o.htmlPath, result); err != nil {
			return err
		}
		logger.Info("HTML report written", zap.String("path", o.htmlPath))
	}

	if runErr != nil {
		return runErr
	}
	if !result.Passed {
		return ErrThresholdsFailed
	}
	return nil
}

// buildConfig resolves the base configuration and applies every flag the
// user set explicitly.
func (o *runOptions) buildConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	switch {
	case o.configFile != "":
		cfg, err = config.LoadConfig(o.configFile)
	case o.profile != "":
		cfg, err = config.LoadProfile(o.profile)
	case o.scenario != "":
		cfg, err = config.LoadProfile(o.scenario)
	default:
		cfg, err = config.LoadProfile("load")
	}
	if err != nil {
		return nil, err
	}

	overrides, err := o.overrides(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Apply(overrides)
	return cfg, nil
}

func (o *runOptions) overrides(cmd *cobra.Command) (config.Overrides, error) {
	changed := cmd.Flags().Changed
	var ov config.Overrides

	if changed("base-url") {
		ov.BaseURL = &o.baseURL
	}
	if changed("scenario") {
		ov.Scenario = &o.scenario
	}
	if changed("start-vus") {
		ov.StartVUs = &o.startVUs
	}
	if changed("stages") {
		stages, err := config.ParseStages(o.stages)
		if err != nil {
			return ov, fmt.Errorf("invalid --stages: %w", err)
		}
		ov.Stages = stages
	}
	if changed("duration") {
		ov.Duration = &o.duration
	}
	if changed("graceful-stop") {
		ov.GracefulStop = &o.gracefulStop
	}
	if changed("seed") {
		ov.Seed = &o.seed
	}
	if changed("timeout") {
		ov.Timeout = &o.timeout
	}
	if len(o.headers) > 0 {
		ov.Headers = make(map[string]string, len(o.headers))
		for _, h := range o.headers {
			name, value, err := config.ParseHeader(h)
			if err != nil {
				return ov, err
			}
			ov.Headers[name] = value
		}
	}
	if changed("user-agent") {
		ov.UserAgent = &o.userAgent
	}
	if changed("insecure") {
		ov.InsecureSkipVerify = &o.insecure
	}
	if changed("validate-response") {
		ov.ValidateResponse = &o.validateResponse
	}
	if changed("track-job") {
		ov.TrackJob = &o.trackJob
	}
	if changed("create-probability") {
		ov.CreateProbability = &o.createProbability
	}
	if changed("checks-threshold") {
		ov.ChecksThreshold = &o.checksThreshold
	}
	if changed("metrics-addr") {
		ov.MetricsAddr = &o.metricsAddr
	}
	return ov, nil
}
