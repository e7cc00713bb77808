package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/olympisai/trafficgen/internal/loadgen"
)

// ExporterConfig configures an Exporter.
type ExporterConfig struct {
	Namespace string

	// Registry defaults to a fresh registry so runs never collide with
	// prometheus.DefaultRegisterer.
	Registry *prometheus.Registry

	// ConstLabels are attached to every series, e.g. run_id and scenario
	ConstLabels prometheus.Labels
}

// Exporter exposes check results as Prometheus metrics. It implements
// loadgen.Sink.
type Exporter struct {
	registry *prometheus.Registry

	checks    *prometheus.CounterVec
	durations *prometheus.HistogramVec
	bytes     prometheus.Counter
	vus       *prometheus.GaugeVec
}

// NewExporter registers the trafficgen metrics.
func NewExporter(cfg ExporterConfig) *Exporter {
	if cfg.Namespace == "" {
		cfg.Namespace = "trafficgen"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Exporter{
		registry: cfg.Registry,
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   cfg.Namespace,
				Name:        "checks_total",
				Help:        "Check results by check name and outcome",
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"check", "result"},
		),
		durations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   cfg.Namespace,
				Name:        "check_duration_seconds",
				Help:        "HTTP call duration per check",
				Buckets:     prometheus.ExponentialBuckets(0.005, 2, 12),
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"check"},
		),
		bytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   cfg.Namespace,
				Name:        "received_bytes_total",
				Help:        "Response body bytes received",
				ConstLabels: cfg.ConstLabels,
			},
		),
		vus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   cfg.Namespace,
				Name:        "vus",
				Help:        "Worker counts (target from the ramp, active goroutines)",
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"kind"},
		),
	}
}

// Record counts one result.
func (e *Exporter) Record(r loadgen.Result) {
	e.checks.WithLabelValues(r.Name, r.Kind.String()).Inc()
	if r.Kind != loadgen.KindTransportError {
		e.durations.WithLabelValues(r.Name).Observe(r.Duration.Seconds())
	}
	e.bytes.Add(float64(r.BytesReceived))
}

// SetVUs updates the worker gauges.
func (e *Exporter) SetVUs(active, target int) {
	e.vus.WithLabelValues("active").Set(float64(active))
	e.vus.WithLabelValues("target").Set(float64(target))
}

// Registry returns the registry the metrics live in.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving prometheus metrics", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
