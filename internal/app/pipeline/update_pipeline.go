package pipeline

import (
	"context"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// RunUpdatePipeline moves collector updates into the source cache until in is
// closed or ctx is done. Updates for unregistered sources are dropped.
func RunUpdatePipeline(ctx context.Context, in <-chan *domain.Update, cache ports.SourceWriter, obs ports.Observability) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				return
			}
			if u == nil {
				continue
			}
			if !cache.Put(u.Source, u.Value) {
				obs.IncCounter(ports.MetricUpdatesDropped, 1)
				obs.LogDebug("update_dropped_unknown_source", ports.Field{Key: "source", Value: u.Source})
				continue
			}
			obs.IncCounter(ports.MetricUpdates, 1)
		}
	}
}
