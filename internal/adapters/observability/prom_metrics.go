package observability

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/AUVSL/rosbag-to-csv/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// PromObs records recorder metrics in Prometheus and forwards log calls to zap.
type PromObs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the recorder metrics on reg. A nil reg uses a fresh
// registry and a nil log discards log output. Registering twice on the same
// registerer is an error.
func NewPromObs(reg prometheus.Registerer, log *zap.Logger) (*PromObs, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		ports.MetricTicks:            counter(ports.MetricTicks, "Sampling passes that produced a row."),
		ports.MetricTicksSkipped:     counter(ports.MetricTicksSkipped, "Ticks refused because the previous pass was still running."),
		ports.MetricRows:             counter(ports.MetricRows, "Rows appended to the table."),
		ports.MetricExtractionMisses: counter(ports.MetricExtractionMisses, "Cells recorded as missing."),
		ports.MetricUpdates:          counter(ports.MetricUpdates, "Source updates stored in the cache."),
		ports.MetricUpdatesDropped:   counter(ports.MetricUpdatesDropped, "Updates dropped because their source is not registered."),
	}
	gauges := map[string]prometheus.Gauge{
		ports.MetricTableRows:    gauge(ports.MetricTableRows, "Rows currently held for export."),
		ports.MetricJournalBytes: gauge(ports.MetricJournalBytes, "Size of the row journal on disk."),
		ports.MetricSourcesStale: gauge(ports.MetricSourcesStale, "Registered sources that have not delivered a value yet."),
	}
	tick := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricTickDuration,
		Help:    "Duration of one sampling pass.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})
	export := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricExportDuration,
		Help:    "Duration of the final table export.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	collectors := []prometheus.Collector{tick, export}
	for _, c := range counters {
		collectors = append(collectors, c)
	}
	for _, g := range gauges {
		collectors = append(collectors, g)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return &PromObs{
		log:      log,
		counters: counters,
		gauges:   gauges,
		histos: map[string]prometheus.Observer{
			ports.MetricTickDuration:   tick,
			ports.MetricExportDuration: export,
		},
	}, nil
}

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.log.Debug(msg, zapFields(fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

// LogCritical logs at error level with a critical marker; it never exits.
func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func zapFields(fields []ports.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, len(fields), len(fields)+2)
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
