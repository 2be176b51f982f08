package recorder

import (
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/natsbus"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/opcua"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/rosbridge"
	"github.com/AUVSL/rosbag-to-csv/internal/app/config"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls tick overlap handling and the update buffer.
	Policy = ports.Policy
	// Subscription names one source and the columns read from it.
	Subscription = config.Subscription
	// FieldConfig maps an output column to a dotted path.
	FieldConfig = config.Field
	// OutputConfig selects csv, tsv or postgres output.
	OutputConfig = config.OutputConfig
	// PostgresConfig configures the postgres writer.
	PostgresConfig = config.PostgresConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// JournalConfig configures the on-disk row journal.
	JournalConfig = config.JournalConfig
	LogConfig     = config.LogConfig
	// ROSBridgeConfig, NATSConfig and OPCUAConfig configure the transports.
	ROSBridgeConfig = rosbridge.Config
	NATSConfig      = natsbus.Config
	OPCUAConfig     = opcua.Config
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes and validates YAML held in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
