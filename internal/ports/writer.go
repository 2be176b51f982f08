package ports

import (
	"context"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
)

// TableWriter serializes the final table. Writers treat an empty table as a
// no-op rather than an error.
type TableWriter interface {
	Write(ctx context.Context, table domain.Table) error
	Name() string
}
