package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AUVSL/rosbag-to-csv/internal/adapters/cache"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/journal"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/natsbus"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/observability"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/opcua"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/rosbridge"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/rowstore"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/writer"
	"github.com/AUVSL/rosbag-to-csv/internal/app/config"
	"github.com/AUVSL/rosbag-to-csv/internal/app/pipeline"
	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/logger"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

const (
	gaugeInterval   = time.Second
	shutdownTimeout = 30 * time.Second
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collectors    []Collector
	writer        TableWriter
	observability Observability
	journal       Journal
	registerer    prometheus.Registerer
	logger        *zap.Logger
	now           func() time.Time
}

// WithCollector adds a collector. A collector whose Name matches a transport
// ("rosbridge", "nats", "opcua") replaces the one built from the config.
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) {
		if col != nil {
			o.collectors = append(o.collectors, col)
		}
	}
}

// WithTableWriter replaces the writer selected by output.format.
func WithTableWriter(w TableWriter) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.writer = w
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithJournal supplies a journal instead of opening one under journal.dir.
func WithJournal(j Journal) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.journal = j
	}
}

// WithRegisterer registers the default metrics on reg instead of a registry
// owned by the runtime. When reg is also a Gatherer the metrics server serves
// it. NewRuntime fails if reg already holds recorder metrics.
func WithRegisterer(reg prometheus.Registerer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registerer = reg
	}
}

// WithLogger replaces the zap logger built from log.environment.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithClock sets the clock used to timestamp rows.
func WithClock(now func() time.Time) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.now = now
	}
}

// Runtime owns one recording: the source cache, the sampler, the row table,
// the collectors feeding them and the writer that exports the table once the
// recording stops.
type Runtime struct {
	cfg        *Config
	obs        ports.Observability
	log        *zap.Logger
	gatherer   prometheus.Gatherer
	cache      *cache.SourceCache
	store      *rowstore.MemRowStore
	sampler    *pipeline.Sampler
	collectors []ports.Collector
	writer     ports.TableWriter
	journal    ports.Journal
	db         *sql.DB
	ensure     func(context.Context) error
	updates    chan *domain.Update

	started      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewRuntime validates cfg and builds every component. Nothing connects or
// ticks until Run.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	log := overrides.logger
	if log == nil {
		l, err := logger.New(cfg.Log.Environment)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		log = l
	}

	reg := overrides.registerer
	if reg == nil {
		own := prometheus.NewRegistry()
		own.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg = own
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	obs := overrides.observability
	if obs == nil {
		p, err := observability.NewPromObs(reg, log)
		if err != nil {
			return nil, err
		}
		obs = p
	}

	r := &Runtime{
		cfg:      cfg,
		obs:      obs,
		log:      log,
		gatherer: gatherer,
		updates:  make(chan *domain.Update, cfg.Policy.UpdateBuffer),
	}
	if err := r.build(overrides); err != nil {
		return nil, errors.Join(err, r.closeResources())
	}
	return r, nil
}

func (r *Runtime) build(o runtimeOverrides) error {
	schema := r.cfg.Schema()
	columns := schema.Columns()

	r.cache = cache.NewSourceCache()
	for _, src := range r.cfg.Sources() {
		if err := r.cache.Register(src.Key); err != nil {
			return err
		}
	}
	r.cache.Seal()

	r.store = rowstore.NewMemRowStore(columns, 1024)

	r.journal = o.journal
	if r.journal == nil && r.cfg.Journal.Dir != "" {
		j, err := journal.NewFileJournal(r.cfg.Journal.Dir)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		r.journal = j
	}

	var out ports.RowAppender = r.store
	if r.journal != nil {
		replayed, err := journal.Recover(r.journal, columns, r.store)
		if err != nil {
			return fmt.Errorf("journal replay: %w", err)
		}
		if replayed > 0 {
			r.obs.LogInfo("journal_replay_complete", ports.Field{Key: "rows", Value: replayed})
		}
		out = journal.NewAppender(r.journal, columns, r.store, r.obs)
	}

	var samplerOpts []pipeline.SamplerOption
	if o.now != nil {
		samplerOpts = append(samplerOpts, pipeline.WithClock(o.now))
	}
	sampler, err := pipeline.NewSampler(schema, r.cfg.Interval, r.cfg.Policy, r.cache, out, r.obs, samplerOpts...)
	if err != nil {
		return err
	}
	r.sampler = sampler

	r.writer = o.writer
	if r.writer == nil {
		if err := r.buildWriter(); err != nil {
			return err
		}
	}

	return r.buildCollectors(o.collectors)
}

func (r *Runtime) buildWriter() error {
	switch r.cfg.Output.Format {
	case config.FormatPostgres:
		db, err := sql.Open("postgres", r.cfg.Postgres.ConnString)
		if err != nil {
			return err
		}
		r.db = db
		w, err := writer.NewPostgresWriter(db, r.cfg.Postgres.Table, r.cfg.Postgres.BatchSize, uuid.New())
		if err != nil {
			return err
		}
		r.writer = w
		r.ensure = w.EnsureTable
		r.obs.LogInfo("postgres_writer_ready",
			ports.Field{Key: "table", Value: r.cfg.Postgres.Table},
			ports.Field{Key: "run_id", Value: w.RunID().String()})
	case config.FormatTSV:
		w, err := writer.NewTSVWriter(r.cfg.Output.Path)
		if err != nil {
			return err
		}
		r.writer = w
	default:
		w, err := writer.NewCSVWriter(r.cfg.Output.Path, r.cfg.DelimiterRune())
		if err != nil {
			return err
		}
		r.writer = w
	}
	return nil
}

func (r *Runtime) buildCollectors(injected []Collector) error {
	r.collectors = append(r.collectors, injected...)
	provided := lo.SliceToMap(injected, func(c Collector) (string, bool) { return c.Name(), true })

	for _, transport := range []string{domain.TransportROSBridge, domain.TransportNATS, domain.TransportOPCUA} {
		sources := r.cfg.SourcesFor(transport)
		if len(sources) == 0 || provided[transport] {
			continue
		}
		var (
			col ports.Collector
			err error
		)
		switch transport {
		case domain.TransportROSBridge:
			col, err = newROSBridge(r.cfg.ROSBridge, sources, r.obs)
		case domain.TransportNATS:
			col, err = newNATS(r.cfg.NATS, sources, r.obs)
		case domain.TransportOPCUA:
			col, err = newOPCUA(r.cfg.OPCUA, sources, r.obs)
		}
		if err != nil {
			return fmt.Errorf("%s collector: %w", transport, err)
		}
		r.collectors = append(r.collectors, col)
	}
	return nil
}

func newROSBridge(cfg rosbridge.Config, sources []domain.Source, obs ports.Observability) (ports.Collector, error) {
	c, err := rosbridge.NewCollector(cfg, sources, obs)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newNATS(cfg natsbus.Config, sources []domain.Source, obs ports.Observability) (ports.Collector, error) {
	c, err := natsbus.NewCollector(cfg, sources, obs)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newOPCUA(cfg opcua.Config, sources []domain.Source, obs ports.Observability) (ports.Collector, error) {
	c, err := opcua.NewCollector(cfg, sources, obs)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Put stores value as the latest value of source. It is safe to call from
// any goroutine and reports ErrUnknownSource for unregistered keys.
func (r *Runtime) Put(source string, value any) error {
	if !r.cache.Put(source, value) {
		r.obs.IncCounter(ports.MetricUpdatesDropped, 1)
		return fmt.Errorf("%w: %q", domain.ErrUnknownSource, source)
	}
	r.obs.IncCounter(ports.MetricUpdates, 1)
	return nil
}

// Columns returns the table's column names in order.
func (r *Runtime) Columns() []string { return r.store.Columns() }

// Snapshot copies the rows recorded so far without draining them.
func (r *Runtime) Snapshot() Table { return r.store.Snapshot() }

// Tick runs one sampling pass outside the ticker; false means it was refused.
func (r *Runtime) Tick() bool { return r.sampler.Tick() }

// Run starts the collectors and the sampler and blocks until ctx is
// cancelled or a component fails. It then shuts down and exports the table.
func (r *Runtime) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("runtime: %w", domain.ErrAlreadyStarted)
	}

	runErr := r.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, r.Shutdown(shutdownCtx))
}

func (r *Runtime) run(ctx context.Context) error {
	if r.ensure != nil {
		if err := r.ensure(ctx); err != nil {
			return fmt.Errorf("prepare output table: %w", err)
		}
	}
	for i, col := range r.collectors {
		if err := col.Start(r.updates); err != nil {
			for _, started := range r.collectors[:i] {
				_ = started.Stop()
			}
			return fmt.Errorf("start %s collector: %w", col.Name(), err)
		}
	}

	r.obs.LogInfo("recording_started",
		ports.Field{Key: "interval", Value: r.sampler.Interval().String()},
		ports.Field{Key: "columns", Value: len(r.store.Columns())},
		ports.Field{Key: "sources", Value: len(r.cache.Keys())},
		ports.Field{Key: "writer", Value: r.writer.Name()})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pipeline.RunUpdatePipeline(gctx, r.updates, r.cache, r.obs)
		return nil
	})
	g.Go(func() error {
		return r.sampler.Run(gctx)
	})
	g.Go(func() error {
		r.recordGauges(gctx, gaugeInterval)
		return nil
	})
	if r.cfg.Metrics.Addr != "" {
		srv := r.metricsServer()
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// Shutdown stops the collectors and the sampler, exports the table once and
// releases every resource. Later calls return the first result.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.shutdownErr = r.shutdown(ctx)
	})
	return r.shutdownErr
}

func (r *Runtime) shutdown(ctx context.Context) error {
	var errs []error

	for _, col := range r.collectors {
		if err := col.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s collector: %w", col.Name(), err))
		}
	}
	r.sampler.Stop()

	if err := r.export(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runtime) export(ctx context.Context) error {
	table := r.store.Drain()
	r.obs.SetGauge(ports.MetricTableRows, 0)
	if table.Empty() {
		r.obs.LogInfo("no rows to export", ports.Field{Key: "writer", Value: r.writer.Name()})
		return r.releaseJournal()
	}

	start := time.Now()
	if err := r.writer.Write(ctx, table); err != nil {
		r.obs.LogError("export_failed", err,
			ports.Field{Key: "writer", Value: r.writer.Name()},
			ports.Field{Key: "rows", Value: len(table.Rows)})
		return fmt.Errorf("export via %s: %w", r.writer.Name(), err)
	}
	r.obs.ObserveLatency(ports.MetricExportDuration, time.Since(start).Seconds())
	r.obs.LogInfo("table_exported",
		ports.Field{Key: "writer", Value: r.writer.Name()},
		ports.Field{Key: "rows", Value: len(table.Rows)},
		ports.Field{Key: "columns", Value: len(table.Columns)})
	return r.releaseJournal()
}

// releaseJournal drops journaled rows once they are exported. A failed export
// never reaches here, so the next run replays them.
func (r *Runtime) releaseJournal() error {
	if r.journal == nil {
		return nil
	}
	latest := r.journal.Stats().LatestAppended
	if latest == 0 {
		return nil
	}
	if err := r.journal.Commit(latest); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}
	if err := r.journal.TruncateCommitted(); err != nil {
		return fmt.Errorf("journal truncate: %w", err)
	}
	return nil
}

func (r *Runtime) closeResources() error {
	var errs []error
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal close: %w", err))
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = r.log.Sync()
	return errors.Join(errs...)
}

func (r *Runtime) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if r.sampler.State() == pipeline.StateStopped {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("stopped"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (r *Runtime) recordGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.updateGauges()
		}
	}
}

func (r *Runtime) updateGauges() {
	r.obs.SetGauge(ports.MetricTableRows, float64(r.store.Len()))
	if r.journal != nil {
		r.obs.SetGauge(ports.MetricJournalBytes, float64(r.journal.Stats().SizeBytes))
	}
	stale := lo.CountBy(r.cache.Stats(), func(s cache.SourceStats) bool { return !s.HasValue })
	r.obs.SetGauge(ports.MetricSourcesStale, float64(stale))
}
