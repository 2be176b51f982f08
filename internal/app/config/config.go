package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/AUVSL/rosbag-to-csv/internal/adapters/natsbus"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/opcua"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/rosbridge"
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/writer"
	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/extract"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

const DefaultInterval = 50 * time.Millisecond

// Output formats.
const (
	FormatCSV      = "csv"
	FormatTSV      = "tsv"
	FormatPostgres = "postgres"
)

type Config struct {
	Interval      time.Duration    `yaml:"interval"`
	Policy        ports.Policy     `yaml:"policy"`
	Output        OutputConfig     `yaml:"output"`
	Postgres      PostgresConfig   `yaml:"postgres"`
	Log           LogConfig        `yaml:"log"`
	Metrics       MetricsConfig    `yaml:"metrics"`
	Journal       JournalConfig    `yaml:"journal"`
	ROSBridge     rosbridge.Config `yaml:"rosbridge"`
	NATS          natsbus.Config   `yaml:"nats"`
	OPCUA         opcua.Config     `yaml:"opcua"`
	Subscriptions []Subscription   `yaml:"subscriptions"`

	// intervalSet records that the YAML named an interval, so an explicit
	// zero is rejected instead of defaulted.
	intervalSet bool
}

// Subscription names one source and the columns extracted from it.
type Subscription struct {
	TopicName   string  `yaml:"topic_name"`
	MessageType string  `yaml:"message_type"`
	Transport   string  `yaml:"transport"`
	Address     string  `yaml:"address"`
	Fields      []Field `yaml:"fields"`
}

type Field struct {
	Name      string `yaml:"name"`
	FieldPath string `yaml:"field_path"`
}

type OutputConfig struct {
	Format    string `yaml:"format"`
	Path      string `yaml:"path"`
	Delimiter string `yaml:"delimiter"`
}

type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
	BatchSize  int    `yaml:"batch_size"`
}

type LogConfig struct {
	Environment string `yaml:"environment"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type JournalConfig struct {
	Dir string `yaml:"dir"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	var keys struct {
		Interval *time.Duration `yaml:"interval"`
	}
	if err := yaml.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	cfg.intervalSet = keys.Interval != nil
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize applies defaults and validates a configuration built in code. A
// zero Interval on a Config built in code means "use the default"; in YAML
// only an omitted interval does.
func (c *Config) Finalize() error {
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Interval == 0 && !c.intervalSet {
		c.Interval = DefaultInterval
	}
	if c.Policy.OnOverlap == "" {
		c.Policy.OnOverlap = ports.OverlapSkip
	}
	if c.Policy.UpdateBuffer == 0 {
		c.Policy.UpdateBuffer = 1024
	}
	if c.Output.Format == "" {
		c.Output.Format = FormatCSV
	}
	c.Output.Format = strings.ToLower(c.Output.Format)
	if c.Output.Path == "" {
		switch c.Output.Format {
		case FormatTSV:
			c.Output.Path = "output.tsv"
		default:
			c.Output.Path = "output.csv"
		}
	}
	if c.Output.Delimiter == "" {
		c.Output.Delimiter = ","
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = "recorded_rows"
	}
	if c.Postgres.BatchSize == 0 {
		c.Postgres.BatchSize = 5_000
	}
	if c.Log.Environment == "" {
		c.Log.Environment = "development"
	}
	for i := range c.Subscriptions {
		if c.Subscriptions[i].Transport == "" {
			c.Subscriptions[i].Transport = domain.TransportROSBridge
		}
		c.Subscriptions[i].Transport = strings.ToLower(c.Subscriptions[i].Transport)
	}

	c.ROSBridge.ApplyDefaults()
	c.NATS.ApplyDefaults()
	if c.uses(domain.TransportOPCUA) {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	switch c.Policy.OnOverlap {
	case ports.OverlapSkip, ports.OverlapDefer:
	default:
		return fmt.Errorf("policy.on_overlap must be %q or %q, got %q", ports.OverlapSkip, ports.OverlapDefer, c.Policy.OnOverlap)
	}
	if c.Policy.UpdateBuffer < 0 {
		return errors.New("policy.update_buffer must not be negative")
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if len(c.Subscriptions) == 0 {
		return errors.New("at least one subscription is required")
	}

	sources := make(map[string]struct{}, len(c.Subscriptions))
	columns := make(map[string]string)
	for i, sub := range c.Subscriptions {
		if sub.TopicName == "" {
			return fmt.Errorf("subscriptions[%d]: topic_name is required", i)
		}
		if _, dup := sources[sub.TopicName]; dup {
			return fmt.Errorf("subscriptions[%d]: duplicate topic_name %q", i, sub.TopicName)
		}
		sources[sub.TopicName] = struct{}{}

		if err := c.validateDescriptor(sub); err != nil {
			return fmt.Errorf("subscriptions[%d] %q: %w", i, sub.TopicName, err)
		}
		for j, f := range sub.Fields {
			if f.Name == "" {
				return fmt.Errorf("subscriptions[%d].fields[%d]: name is required", i, j)
			}
			if owner, dup := columns[f.Name]; dup {
				return fmt.Errorf("duplicate output column %q (in %q and %q)", f.Name, owner, sub.TopicName)
			}
			columns[f.Name] = sub.TopicName
			if err := extract.ValidatePath(f.FieldPath); err != nil {
				return fmt.Errorf("column %q: %w", f.Name, err)
			}
		}
	}
	if len(columns) == 0 {
		return errors.New("at least one field is required")
	}

	if c.uses(domain.TransportOPCUA) {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	return nil
}

func (c *Config) validateOutput() error {
	switch c.Output.Format {
	case FormatCSV:
		if utf8.RuneCountInString(c.Output.Delimiter) != 1 {
			return fmt.Errorf("output.delimiter must be a single character, got %q", c.Output.Delimiter)
		}
	case FormatTSV:
	case FormatPostgres:
		if c.Postgres.ConnString == "" {
			return errors.New("postgres.conn_string is required for postgres output")
		}
		if !writer.ValidTableName(c.Postgres.Table) {
			return fmt.Errorf("postgres.table %q is not a valid identifier", c.Postgres.Table)
		}
		if c.Postgres.BatchSize < 0 {
			return errors.New("postgres.batch_size must not be negative")
		}
	default:
		return fmt.Errorf("unknown output.format %q", c.Output.Format)
	}
	return nil
}

func (c *Config) validateDescriptor(sub Subscription) error {
	switch sub.Transport {
	case domain.TransportROSBridge:
		if !rosbridge.ValidMessageType(sub.MessageType) {
			return fmt.Errorf("unresolvable message_type %q", sub.MessageType)
		}
	case domain.TransportNATS:
		if _, ok := natsbus.Codec(sub.MessageType); !ok {
			return fmt.Errorf("unresolvable message_type %q (want json or yaml)", sub.MessageType)
		}
	case domain.TransportOPCUA:
		if !opcua.ValidMessageType(sub.MessageType) {
			return fmt.Errorf("unresolvable message_type %q (want %s)", sub.MessageType, opcua.MessageType)
		}
		addr := sub.Address
		if addr == "" {
			addr = sub.TopicName
		}
		if err := opcua.ValidateNodeID(addr); err != nil {
			return fmt.Errorf("node id %q: %v", addr, err)
		}
	case domain.TransportExternal:
	default:
		return fmt.Errorf("unknown transport %q", sub.Transport)
	}
	return nil
}

func (c *Config) uses(transport string) bool {
	return lo.ContainsBy(c.Subscriptions, func(s Subscription) bool { return s.Transport == transport })
}

// Sources lists every subscription as a source, in configuration order.
func (c *Config) Sources() []domain.Source {
	return lo.Map(c.Subscriptions, func(s Subscription, _ int) domain.Source {
		return domain.Source{
			Key:         s.TopicName,
			MessageType: s.MessageType,
			Transport:   s.Transport,
			Address:     s.Address,
		}
	})
}

// SourcesFor filters Sources by transport.
func (c *Config) SourcesFor(transport string) []domain.Source {
	return lo.Filter(c.Sources(), func(s domain.Source, _ int) bool { return s.Transport == transport })
}

// Schema flattens the subscriptions' fields into the column order.
func (c *Config) Schema() domain.Schema {
	return domain.Schema{Fields: lo.FlatMap(c.Subscriptions, func(s Subscription, _ int) []domain.FieldSpec {
		return lo.Map(s.Fields, func(f Field, _ int) domain.FieldSpec {
			return domain.FieldSpec{Name: f.Name, Source: s.TopicName, Path: f.FieldPath}
		})
	})}
}

// DelimiterRune returns the configured CSV delimiter.
func (c *Config) DelimiterRune() rune {
	if c.Output.Format == FormatTSV {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(c.Output.Delimiter)
	return r
}
