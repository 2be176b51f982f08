package recorder

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/AUVSL/rosbag-to-csv/internal/adapters/writer"
	"github.com/AUVSL/rosbag-to-csv/internal/domain"
)

// TableCallback receives the exported table.
type TableCallback func(ctx context.Context, table Table) error

// NewCallbackWriter adapts a function into a TableWriter so callers can plug
// in arbitrary exports without defining structs.
func NewCallbackWriter(name string, fn TableCallback) (TableWriter, error) {
	w, err := writer.NewCallbackWriter(name, fn)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewCSVWriter writes delimited text to path.
func NewCSVWriter(path string, delimiter rune) (TableWriter, error) {
	w, err := writer.NewCSVWriter(path, delimiter)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func NewTSVWriter(path string) (TableWriter, error) {
	w, err := writer.NewTSVWriter(path)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewPostgresWriter inserts the table through an existing database handle
// under a fresh run id. The destination table must already exist.
func NewPostgresWriter(db *sql.DB, table string, batchSize int) (TableWriter, error) {
	w, err := writer.NewPostgresWriter(db, table, batchSize, uuid.New())
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Missing is the cell recorded when a path does not resolve.
var Missing = domain.Missing

// Present wraps a resolved scalar.
func Present(v any) Cell { return domain.Present(v) }

// FormatCell renders a cell the way the delimited writers do.
func FormatCell(c Cell) string { return writer.FormatCell(c) }
