package journal

import (
	"time"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// Appender journals every row before handing it to the next appender. A
// journal failure is reported but never keeps a row out of the table.
type Appender struct {
	journal ports.Journal
	columns []string
	next    ports.RowAppender
	obs     ports.Observability
}

func NewAppender(j ports.Journal, columns []string, next ports.RowAppender, obs ports.Observability) *Appender {
	return &Appender{journal: j, columns: columns, next: next, obs: obs}
}

func (a *Appender) Append(row domain.Row) {
	if _, err := a.journal.Append(a.columns, row); err != nil {
		a.obs.LogError("journal_append_failed", err, ports.Field{Key: "seq", Value: row.Seq})
	}
	a.next.Append(row)
}

// Recover replays rows that were journaled but never committed into out,
// mapped onto columns: values for unknown columns are dropped and columns the
// record lacks are Missing. It returns the number of rows replayed.
func Recover(j ports.Journal, columns []string, out ports.RowAppender) (int, error) {
	stats := j.Stats()
	if stats.LatestAppended == 0 || stats.OldestUncommitted > stats.LatestAppended {
		return 0, nil
	}

	var replayed int
	err := j.Iterate(stats.OldestUncommitted, func(_ ports.JournalEntryID, rec ports.JournalRecord) error {
		out.Append(RowFromRecord(columns, rec))
		replayed++
		return nil
	})
	return replayed, err
}

func RowFromRecord(columns []string, rec ports.JournalRecord) domain.Row {
	row := domain.Row{
		Seq:       rec.Seq,
		Timestamp: time.Unix(0, rec.Timestamp),
		Cells:     make([]domain.Cell, len(columns)),
	}
	for i, name := range columns {
		if v, ok := rec.Values[name]; ok && v != nil {
			row.Cells[i] = domain.Present(v)
		}
	}
	return row
}

var _ ports.RowAppender = (*Appender)(nil)
