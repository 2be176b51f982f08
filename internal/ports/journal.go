package ports

import "github.com/AUVSL/rosbag-to-csv/internal/domain"

type JournalEntryID uint64

// Journal persists sampled rows so a crashed run can be recovered.
type Journal interface {
	Append(columns []string, row domain.Row) (JournalEntryID, error)
	Iterate(from JournalEntryID, fn func(id JournalEntryID, rec JournalRecord) error) error
	Commit(upto JournalEntryID) error
	TruncateCommitted() error
	Stats() JournalStats
	Close() error
}

// JournalRecord is a row as it was written to disk, keyed by column name.
type JournalRecord struct {
	Seq       uint64         `json:"seq"`
	Timestamp int64          `json:"ts"`
	Values    map[string]any `json:"values"`
}

type JournalStats struct {
	OldestUncommitted JournalEntryID
	LatestAppended    JournalEntryID
	SizeBytes         int64
}
