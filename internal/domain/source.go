package domain

import "github.com/samber/lo"

// Transport names understood by the runtime.
const (
	TransportROSBridge = "rosbridge"
	TransportNATS      = "nats"
	TransportOPCUA     = "opcua"
	TransportExternal  = "external"
)

// Source is a named producer of structured values (a ROS topic, a NATS
// subject, an OPC UA node). Its current value lives in the source cache.
type Source struct {
	Key         string
	MessageType string
	Transport   string
	// Address is the transport-level name (subject, node id). Empty means Key.
	Address string
}

// SubscribeAddress returns the name the transport should subscribe to.
func (s Source) SubscribeAddress() string {
	if s.Address != "" {
		return s.Address
	}
	return s.Key
}

// FieldSpec declares one output column.
type FieldSpec struct {
	Name   string
	Source string
	Path   string
}

// Schema is the ordered list of columns every row is built against.
type Schema struct {
	Fields []FieldSpec
}

func (s Schema) Columns() []string {
	return lo.Map(s.Fields, func(f FieldSpec, _ int) string { return f.Name })
}

func (s Schema) Len() int { return len(s.Fields) }
