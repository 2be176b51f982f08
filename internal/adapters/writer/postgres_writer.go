package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

const (
	postgresParamsPerRow = 4
	// postgres caps a statement at 65535 bind parameters
	maxPostgresBatch = 65535 / postgresParamsPerRow
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTableName reports whether name is a plain, optionally schema
// qualified, SQL identifier.
func ValidTableName(name string) bool { return tableNamePattern.MatchString(name) }

// PostgresWriter inserts the table into Postgres/Timescale, one statement per
// batch inside a single transaction. Every export gets its own run id.
type PostgresWriter struct {
	db        *sql.DB
	tableName string
	batchSize int
	runID     uuid.UUID
}

func NewPostgresWriter(db *sql.DB, table string, batchSize int, runID uuid.UUID) (*PostgresWriter, error) {
	if !ValidTableName(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", domain.ErrInvalidConfig, table)
	}
	if batchSize <= 0 || batchSize > maxPostgresBatch {
		batchSize = maxPostgresBatch
	}
	return &PostgresWriter{db: db, tableName: table, batchSize: batchSize, runID: runID}, nil
}

func (p *PostgresWriter) Name() string { return "postgres" }

func (p *PostgresWriter) RunID() uuid.UUID { return p.runID }

// EnsureTable creates the destination table when it does not exist yet.
func (p *PostgresWriter) EnsureTable(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+p.tableName+
		" (run_id uuid NOT NULL, row_index bigint NOT NULL, sampled_at timestamptz NOT NULL, values jsonb NOT NULL, PRIMARY KEY (run_id, row_index))")
	return err
}

func (p *PostgresWriter) Write(ctx context.Context, table domain.Table) error {
	if table.Empty() {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for start := 0; start < len(table.Rows); start += p.batchSize {
		end := min(start+p.batchSize, len(table.Rows))
		query, args, err := p.buildInsert(table.Columns, table.Rows[start:end], start)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert rows %d-%d: %w", start, end-1, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresWriter) buildInsert(columns []string, rows []domain.Row, offset int) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.tableName)
	b.WriteString(" (run_id, row_index, sampled_at, values) VALUES ")

	args := make([]any, 0, len(rows)*postgresParamsPerRow)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4))

		vals, err := json.Marshal(rowValues(columns, row))
		if err != nil {
			return "", nil, fmt.Errorf("marshal values: %w", err)
		}
		args = append(args,
			p.runID.String(),
			int64(offset+i),
			row.Timestamp,
			vals,
		)
	}

	b.WriteString(" ON CONFLICT (run_id, row_index) DO NOTHING")
	return b.String(), args, nil
}

// rowValues keeps every column; missing cells become JSON null and
// non-finite floats their string form.
func rowValues(columns []string, row domain.Row) map[string]any {
	out := make(map[string]any, len(columns))
	for i, name := range columns {
		out[name] = nil
		if i < len(row.Cells) {
			out[name] = row.Cells[i].JSONValue()
		}
	}
	return out
}

var _ ports.TableWriter = (*PostgresWriter)(nil)
