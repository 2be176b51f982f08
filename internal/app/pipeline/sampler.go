package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/extract"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// SamplerState is Idle between ticks and Sampling during one extraction pass.
// Stopped is terminal.
type SamplerState int32

const (
	StateIdle SamplerState = iota
	StateSampling
	StateStopped
)

func (s SamplerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SamplerOption customizes a Sampler.
type SamplerOption func(*Sampler)

// WithClock replaces time.Now for row timestamps.
func WithClock(now func() time.Time) SamplerOption {
	return func(s *Sampler) {
		if now != nil {
			s.now = now
		}
	}
}

// Sampler turns the latest value of every source into one row per tick.
type Sampler struct {
	schema   domain.Schema
	interval time.Duration
	policy   ports.Policy
	cache    ports.SourceReader
	out      ports.RowAppender
	obs      ports.Observability
	now      func() time.Time

	// sources lists each distinct source once; fieldSource maps a column to
	// its index in sources so a source is read once per tick.
	sources     []string
	fieldSource []int

	state atomic.Int32

	// busy serializes ticks; seq and missing are only touched while it is held.
	busy    sync.Mutex
	seq     uint64
	missing []bool
}

func NewSampler(schema domain.Schema, interval time.Duration, pol ports.Policy, cache ports.SourceReader, out ports.RowAppender, obs ports.Observability, opts ...SamplerOption) (*Sampler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: sampling interval must be > 0, got %s", domain.ErrInvalidConfig, interval)
	}
	if cache == nil || out == nil || obs == nil {
		return nil, fmt.Errorf("sampler requires a source cache, a row store and observability")
	}
	if schema.Len() == 0 {
		return nil, fmt.Errorf("%w: at least one field is required", domain.ErrInvalidConfig)
	}

	s := &Sampler{
		schema:      schema,
		interval:    interval,
		policy:      pol,
		cache:       cache,
		out:         out,
		obs:         obs,
		now:         time.Now,
		fieldSource: make([]int, schema.Len()),
		missing:     make([]bool, schema.Len()),
	}
	index := make(map[string]int)
	for i, f := range schema.Fields {
		idx, ok := index[f.Source]
		if !ok {
			idx = len(s.sources)
			index[f.Source] = idx
			s.sources = append(s.sources, f.Source)
		}
		s.fieldSource[i] = idx
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Sampler) State() SamplerState { return SamplerState(s.state.Load()) }

func (s *Sampler) Interval() time.Duration { return s.interval }

// Run fires Tick every interval until ctx is done, then stops the sampler.
// The ticker holds at most one pending tick, so a slow pass defers the next
// tick and drops the rest instead of running passes concurrently.
func (s *Sampler) Run(ctx context.Context) error {
	if s.State() == StateStopped {
		return fmt.Errorf("sampler is stopped")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Stop waits for an in-flight pass and refuses all later ticks.
func (s *Sampler) Stop() {
	s.busy.Lock()
	s.state.Store(int32(StateStopped))
	s.busy.Unlock()
}

// Tick performs one sampling pass and appends exactly one row. It reports
// false when the tick was refused: the sampler is stopped, or another pass is
// running and the overlap policy is "skip".
func (s *Sampler) Tick() bool {
	if s.policy.OnOverlap == ports.OverlapDefer {
		s.busy.Lock()
	} else if !s.busy.TryLock() {
		s.obs.IncCounter(ports.MetricTicksSkipped, 1)
		s.obs.LogDebug("tick_skipped_overlap")
		return false
	}
	if s.State() == StateStopped {
		s.busy.Unlock()
		return false
	}

	s.state.Store(int32(StateSampling))
	start := s.now()
	row, changes := s.sample(start)
	s.out.Append(row)
	s.state.Store(int32(StateIdle))
	s.busy.Unlock()

	s.report(changes)
	s.obs.IncCounter(ports.MetricTicks, 1)
	s.obs.IncCounter(ports.MetricRows, 1)
	s.obs.ObserveLatency(ports.MetricTickDuration, s.now().Sub(start).Seconds())
	return true
}

type missChange struct {
	field   domain.FieldSpec
	missing bool
	noValue bool
}

// sample builds the row for one tick. Callers hold busy.
func (s *Sampler) sample(at time.Time) (domain.Row, []missChange) {
	values := make([]any, len(s.sources))
	present := make([]bool, len(s.sources))
	for i, key := range s.sources {
		values[i], present[i] = s.cache.Get(key)
	}

	s.seq++
	row := domain.Row{
		Seq:       s.seq,
		Timestamp: at,
		Cells:     make([]domain.Cell, len(s.schema.Fields)),
	}

	var (
		changes []missChange
		misses  int
	)
	for i, f := range s.schema.Fields {
		src := s.fieldSource[i]
		cell := domain.Missing
		if present[src] {
			if v, ok := extract.Extract(values[src], f.Path); ok {
				cell = domain.Present(v)
			}
		}
		row.Cells[i] = cell

		miss := !cell.Valid
		if miss {
			misses++
		}
		if miss != s.missing[i] {
			s.missing[i] = miss
			changes = append(changes, missChange{field: f, missing: miss, noValue: !present[src]})
		}
	}
	if misses > 0 {
		s.obs.IncCounter(ports.MetricExtractionMisses, float64(misses))
	}
	return row, changes
}

func (s *Sampler) report(changes []missChange) {
	for _, c := range changes {
		fields := []ports.Field{
			{Key: "column", Value: c.field.Name},
			{Key: "source", Value: c.field.Source},
			{Key: "path", Value: c.field.Path},
		}
		switch {
		case !c.missing:
			s.obs.LogInfo("column_resolved", fields...)
		case c.noValue:
			s.obs.LogDebug("column_waiting_for_source", fields...)
		default:
			s.obs.LogWarn("column_path_unresolved", fields...)
		}
	}
}
