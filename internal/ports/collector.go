package ports

import "github.com/AUVSL/rosbag-to-csv/internal/domain"

// Collector subscribes to the sources of one transport and forwards every
// inbound value as an Update.
type Collector interface {
	Start(out chan<- *domain.Update) error
	Stop() error
	Name() string
}
