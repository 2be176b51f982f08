package ports

import "github.com/AUVSL/rosbag-to-csv/internal/domain"

// RowAppender receives completed rows from the sampler.
type RowAppender interface {
	Append(row domain.Row)
}

type RowStore interface {
	RowAppender
	Snapshot() domain.Table
	Drain() domain.Table
	Len() int
}
