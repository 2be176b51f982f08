package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPromObs(reg, nil)
	if err != nil {
		t.Fatalf("NewPromObs: %v", err)
	}

	obs.IncCounter(ports.MetricRows, 5)
	if got := testutil.ToFloat64(obs.counters[ports.MetricRows]); got != 5 {
		t.Fatalf("expected rows counter 5, got %f", got)
	}

	obs.IncCounter(ports.MetricTicksSkipped, 2)
	if got := testutil.ToFloat64(obs.counters[ports.MetricTicksSkipped]); got != 2 {
		t.Fatalf("expected skipped counter 2, got %f", got)
	}

	obs.SetGauge(ports.MetricJournalBytes, 42)
	if got := testutil.ToFloat64(obs.gauges[ports.MetricJournalBytes]); got != 42 {
		t.Fatalf("expected journal gauge 42, got %f", got)
	}

	obs.ObserveLatency(ports.MetricTickDuration, 0.001)
	hCollector := obs.histos[ports.MetricTickDuration].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected tick histogram to be collected once, got %d", samples)
	}

	obs.IncCounter("unknown_metric", 1)
	obs.SetGauge("unknown_gauge", 1)

	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("expected registered metrics, got %d (%v)", n, err)
	}
}

func TestPromObsRejectsSecondRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromObs(reg, nil); err != nil {
		t.Fatalf("first registration: %v", err)
	}

	_, err := NewPromObs(reg, nil)
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyRegisteredError, got %v", err)
	}
}

func TestPromObsForwardsLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	obs, err := NewPromObs(prometheus.NewRegistry(), zap.New(core))
	if err != nil {
		t.Fatalf("NewPromObs: %v", err)
	}

	obs.LogWarn("column_path_unresolved", ports.Field{Key: "column", Value: "x"})
	obs.LogError("export_failed", errors.New("boom"))
	obs.LogCritical("journal_lost", errors.New("disk"))

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}
	if entries[0].ContextMap()["column"] != "x" {
		t.Fatalf("expected column field, got %v", entries[0].ContextMap())
	}
	if entries[2].ContextMap()["critical"] != true {
		t.Fatalf("expected critical marker, got %v", entries[2].ContextMap())
	}
}
