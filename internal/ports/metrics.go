package ports

// Metric names shared by the pipeline and the Prometheus adapter.
const (
	MetricTicks            = "recorder_ticks_total"
	MetricTicksSkipped     = "recorder_ticks_skipped_total"
	MetricRows             = "recorder_rows_total"
	MetricExtractionMisses = "recorder_extraction_misses_total"
	MetricUpdates          = "recorder_updates_total"
	MetricUpdatesDropped   = "recorder_updates_dropped_total"

	MetricTableRows      = "recorder_table_rows"
	MetricJournalBytes   = "recorder_journal_size_bytes"
	MetricSourcesStale   = "recorder_sources_stale"
	MetricTickDuration   = "recorder_tick_duration_seconds"
	MetricExportDuration = "recorder_export_duration_seconds"
)
