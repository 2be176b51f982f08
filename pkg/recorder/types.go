package recorder

import (
	"github.com/AUVSL/rosbag-to-csv/internal/adapters/opcua"
	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// Errors returned by the runtime and its configuration.
var (
	ErrInvalidConfig  = domain.ErrInvalidConfig
	ErrUnknownSource  = domain.ErrUnknownSource
	ErrAlreadyStarted = domain.ErrAlreadyStarted
)

// Transport names accepted in Subscription.Transport.
const (
	TransportROSBridge = domain.TransportROSBridge
	TransportNATS      = domain.TransportNATS
	TransportOPCUA     = domain.TransportOPCUA
	TransportExternal  = domain.TransportExternal
)

// Overlap policies for Policy.OnOverlap.
const (
	OverlapSkip  = ports.OverlapSkip
	OverlapDefer = ports.OverlapDefer
)

// Update is one inbound value for a source.
type Update = domain.Update

// Table is the ordered set of rows handed to a TableWriter.
type Table = domain.Table

// Row is one sampling pass; Cells follow Table.Columns.
type Row = domain.Row

// Cell is a sampled value or Missing.
type Cell = domain.Cell

// Source describes a registered data source.
type Source = domain.Source

// Collector feeds updates for the sources of one transport.
type Collector = ports.Collector

// TableWriter persists the final table on shutdown.
type TableWriter = ports.TableWriter

// Observability receives the runtime's logs and metrics.
type Observability = ports.Observability

// LogField is a structured log field used by Observability implementations.
type LogField = ports.Field

// Journal persists sampled rows for crash recovery.
type Journal = ports.Journal

// JournalStats exposes journal metadata for observability.
type JournalStats = ports.JournalStats

// OPCUAValue is the value cached for OPC UA sources.
type OPCUAValue = opcua.DataValue

// JournalEntryID identifies a journaled row.
type JournalEntryID = ports.JournalEntryID

// JournalRecord is a journaled row keyed by column name.
type JournalRecord = ports.JournalRecord
