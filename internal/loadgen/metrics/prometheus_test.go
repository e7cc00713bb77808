package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/olympisai/trafficgen/internal/loadgen"
)

func TestExporter_Record(t *testing.T) {
	exp := NewExporter(ExporterConfig{ConstLabels: prometheus.Labels{"scenario": "load"}})
	exp.Record(result(loadgen.CheckHealthcheck, 200, 10*time.Millisecond))
	exp.Record(result(loadgen.CheckHealthcheck, 200, 20*time.Millisecond))
	exp.Record(result(loadgen.CheckJobCreated, 500, 30*time.Millisecond))
	exp.Record(result(loadgen.CheckJobCreated, 0, 0))
	exp.SetVUs(4, 5)

	families, err := exp.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	counts := map[string]float64{}
	var observed uint64
	for _, mf := range families {
		switch mf.GetName() {
		case "trafficgen_checks_total":
			for _, m := range mf.GetMetric() {
				labels := map[string]string{}
				for _, lp := range m.GetLabel() {
					labels[lp.GetName()] = lp.GetValue()
				}
				if labels["scenario"] != "load" {
					t.Errorf("missing const label: %v", labels)
				}
				counts[labels["check"]+"/"+labels["result"]] = m.GetCounter().GetValue()
			}
		case "trafficgen_check_duration_seconds":
			for _, m := range mf.GetMetric() {
				observed += m.GetHistogram().GetSampleCount()
			}
		}
	}

	want := map[string]float64{
		"Healthcheck/ok":                2,
		"Job Created/assertion_failure": 1,
		"Job Created/transport_error":   1,
	}
	for key, n := range want {
		if counts[key] != n {
			t.Errorf("checks_total{%s} = %v, want %v", key, counts[key], n)
		}
	}
	if observed != 3 {
		t.Errorf("duration observations = %d, want 3", observed)
	}
}

func TestExporter_Handler(t *testing.T) {
	exp := NewExporter(ExporterConfig{})
	exp.Record(result(loadgen.CheckList, 200, time.Millisecond))
	exp.SetVUs(2, 3)

	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`trafficgen_checks_total{check="List",result="ok"} 1`,
		`trafficgen_vus{kind="active"} 2`,
		`trafficgen_vus{kind="target"} 3`,
		`trafficgen_received_bytes_total 100`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestExporter_SeparateRegistries(t *testing.T) {
	// Two exporters must not clash on registration.
	a := NewExporter(ExporterConfig{})
	b := NewExporter(ExporterConfig{})
	if a.Registry() == b.Registry() {
		t.Error("exporters share a registry")
	}
}
