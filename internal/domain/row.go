package domain

import (
	"math"
	"strconv"
	"time"
)

// Cell holds one sampled value. The zero Cell is Missing and is distinct from
// any legitimate zero, false or empty-string value.
type Cell struct {
	Value any
	Valid bool
}

// Missing marks a column whose path did not resolve during a tick.
var Missing = Cell{}

// Present wraps a resolved scalar.
func Present(v any) Cell { return Cell{Value: v, Valid: true} }

// JSONValue returns the cell's value in a form encoding/json accepts. Missing
// cells are nil and non-finite floats become "NaN", "+Inf" or "-Inf".
func (c Cell) JSONValue() any {
	if !c.Valid {
		return nil
	}
	switch v := c.Value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
	case float32:
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 32)
		}
	}
	return c.Value
}

// Row is produced once per tick. Cells are aligned with the schema's columns,
// so every row carries exactly one entry per column.
type Row struct {
	Seq       uint64
	Timestamp time.Time
	Cells     []Cell
}

// Map renders the row as a column-name keyed mapping.
func (r Row) Map(columns []string) map[string]Cell {
	out := make(map[string]Cell, len(columns))
	for i, name := range columns {
		if i < len(r.Cells) {
			out[name] = r.Cells[i]
		} else {
			out[name] = Missing
		}
	}
	return out
}

// Table is the ordered sequence of rows recorded since startup.
type Table struct {
	Columns []string
	Rows    []Row
}

func (t Table) Empty() bool { return len(t.Rows) == 0 }
