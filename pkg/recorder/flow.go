package recorder

import (
	"context"
	"fmt"
)

// Flow is a convenience builder that lets callers say Conf → StreamIN →
// StreamOUT without touching the underlying wiring.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures the collector and journal side of the runtime.
type StreamInOption func(*Flow)

// StreamOutOption configures the writer and observability side.
type StreamOutOption func(*Flow)

// Conf loads YAML from disk, applies FlowOption values, and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before
// building a runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw RuntimeOption values for advanced scenarios.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.opts = append(f.opts, opts...)
	return f
}

// StreamIN records collector-side overrides.
func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT records writer-side overrides and builds a Runtime ready to run.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run is a shortcut for StreamOUT + Runtime.Run.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithFlowOptions appends RuntimeOption values during Conf.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.opts = append(f.opts, opts...)
		}
	}
}

// StreamInCollector injects a custom collector (simulators, other buses).
func StreamInCollector(col Collector) StreamInOption {
	return func(f *Flow) {
		if f != nil && col != nil {
			f.opts = append(f.opts, WithCollector(col))
		}
	}
}

// StreamInJournal lets callers bring their own journal implementation.
func StreamInJournal(j Journal) StreamInOption {
	return func(f *Flow) {
		if f != nil && j != nil {
			f.opts = append(f.opts, WithJournal(j))
		}
	}
}

// StreamInObservability overrides the default Prometheus and zap backend.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.opts = append(f.opts, WithObservability(obs))
		}
	}
}

// StreamOutWriter replaces the writer chosen by output.format.
func StreamOutWriter(w TableWriter) StreamOutOption {
	return func(f *Flow) {
		if f != nil && w != nil {
			f.opts = append(f.opts, WithTableWriter(w))
		}
	}
}

// StreamOutObservability replaces the default observability backend.
func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.opts = append(f.opts, WithObservability(obs))
		}
	}
}

// StreamOutCallback installs a writer built from a callback. A nil callback
// is ignored.
func StreamOutCallback(name string, fn TableCallback) StreamOutOption {
	return func(f *Flow) {
		if f == nil || fn == nil {
			return
		}
		w, err := NewCallbackWriter(name, fn)
		if err == nil {
			f.opts = append(f.opts, WithTableWriter(w))
		}
	}
}
