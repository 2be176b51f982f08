package recorder

import (
	base "github.com/AUVSL/rosbag-to-csv/pkg/recorder"
)

// Re-exported errors for convenience.
var (
	ErrInvalidConfig  = base.ErrInvalidConfig
	ErrUnknownSource  = base.ErrUnknownSource
	ErrAlreadyStarted = base.ErrAlreadyStarted
)

// Type aliases so consumers can import github.com/AUVSL/rosbag-to-csv directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	Subscription    = base.Subscription
	FieldConfig     = base.FieldConfig
	OutputConfig    = base.OutputConfig
	PostgresConfig  = base.PostgresConfig
	MetricsConfig   = base.MetricsConfig
	JournalConfig   = base.JournalConfig
	LogConfig       = base.LogConfig
	ROSBridgeConfig = base.ROSBridgeConfig
	NATSConfig      = base.NATSConfig
	OPCUAConfig     = base.OPCUAConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Table           = base.Table
	Row             = base.Row
	Cell            = base.Cell
	Update          = base.Update
	Collector       = base.Collector
	TableWriter     = base.TableWriter
	TableCallback   = base.TableCallback
	Observability   = base.Observability
	LogField        = base.LogField
	Journal         = base.Journal
	OPCUAValue      = base.OPCUAValue
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// NewRuntime builds a recording runtime from cfg.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInJournal(j Journal) StreamInOption {
	return base.StreamInJournal(j)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutWriter(w TableWriter) StreamOutOption {
	return base.StreamOutWriter(w)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn TableCallback) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime options.
func WithCollector(col Collector) RuntimeOption   { return base.WithCollector(col) }
func WithTableWriter(w TableWriter) RuntimeOption { return base.WithTableWriter(w) }
func WithObservability(o Observability) RuntimeOption {
	return base.WithObservability(o)
}
func WithJournal(j Journal) RuntimeOption { return base.WithJournal(j) }

// Writers.
func NewCallbackWriter(name string, fn TableCallback) (TableWriter, error) {
	return base.NewCallbackWriter(name, fn)
}

func NewCSVWriter(path string, delimiter rune) (TableWriter, error) {
	return base.NewCSVWriter(path, delimiter)
}

func NewTSVWriter(path string) (TableWriter, error) {
	return base.NewTSVWriter(path)
}

// FormatCell renders a cell the way the delimited writers do.
func FormatCell(c Cell) string { return base.FormatCell(c) }
