package writer

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// DelimitedWriter writes the table as delimited text: a header line of
// column names followed by one line per row.
type DelimitedWriter struct {
	name      string
	path      string
	delimiter rune
}

func NewCSVWriter(path string, delimiter rune) (*DelimitedWriter, error) {
	return newDelimitedWriter("csv", path, delimiter)
}

func NewTSVWriter(path string) (*DelimitedWriter, error) {
	return newDelimitedWriter("tsv", path, '\t')
}

func newDelimitedWriter(name, path string, delimiter rune) (*DelimitedWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: output path is required", domain.ErrInvalidConfig)
	}
	if !validDelimiter(delimiter) {
		return nil, fmt.Errorf("%w: invalid delimiter %q", domain.ErrInvalidConfig, delimiter)
	}
	return &DelimitedWriter{name: name, path: path, delimiter: delimiter}, nil
}

func validDelimiter(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}

func (w *DelimitedWriter) Name() string { return w.name }

func (w *DelimitedWriter) Path() string { return w.path }

// Write replaces the output file atomically. An empty table writes nothing.
func (w *DelimitedWriter) Write(ctx context.Context, table domain.Table) error {
	if table.Empty() {
		return nil
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := w.encode(ctx, tmp, table); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%s writer: %w", w.name, err)
	}
	return nil
}

func (w *DelimitedWriter) encode(ctx context.Context, f *os.File, table domain.Table) error {
	buf := bufio.NewWriterSize(f, 1<<20)
	cw := csv.NewWriter(buf)
	cw.Comma = w.delimiter

	if err := cw.Write(table.Columns); err != nil {
		return err
	}
	record := make([]string, len(table.Columns))
	for i, row := range table.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for c := range record {
			if c < len(row.Cells) {
				record[c] = FormatCell(row.Cells[c])
			} else {
				record[c] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

var _ ports.TableWriter = (*DelimitedWriter)(nil)
