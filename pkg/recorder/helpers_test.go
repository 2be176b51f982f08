package recorder

import (
	"context"
	"sync"
)

type captureWriter struct {
	mu     sync.Mutex
	err    error
	writes []Table
}

func (w *captureWriter) Name() string { return "capture" }

func (w *captureWriter) Write(_ context.Context, table Table) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, table)
	return nil
}

func (w *captureWriter) tables() []Table {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Table(nil), w.writes...)
}

type stubCollector struct {
	name     string
	emit     []*Update
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
}

func (s *stubCollector) Name() string { return s.name }

func (s *stubCollector) Start(out chan<- *Update) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	for _, u := range s.emit {
		out <- u
	}
	return nil
}

func (s *stubCollector) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *stubCollector) wasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *stubCollector) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type stubJournal struct{}

func (s *stubJournal) Append([]string, Row) (JournalEntryID, error) { return 0, nil }
func (s *stubJournal) Iterate(JournalEntryID, func(JournalEntryID, JournalRecord) error) error {
	return nil
}
func (s *stubJournal) Commit(JournalEntryID) error { return nil }
func (s *stubJournal) TruncateCommitted() error    { return nil }
func (s *stubJournal) Stats() JournalStats         { return JournalStats{} }
func (s *stubJournal) Close() error                { return nil }

type stubObservability struct {
	mu    sync.Mutex
	infos []string
}

func (s *stubObservability) LogDebug(string, ...LogField) {}
func (s *stubObservability) LogInfo(msg string, _ ...LogField) {
	s.mu.Lock()
	s.infos = append(s.infos, msg)
	s.mu.Unlock()
}
func (s *stubObservability) LogWarn(string, ...LogField)            {}
func (s *stubObservability) LogError(string, error, ...LogField)    {}
func (s *stubObservability) LogCritical(string, error, ...LogField) {}
func (s *stubObservability) IncCounter(string, float64)             {}
func (s *stubObservability) ObserveLatency(string, float64)         {}
func (s *stubObservability) SetGauge(string, float64)               {}

func (s *stubObservability) infoMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.infos...)
}

func (s *stubObservability) hasInfo(msg string) bool {
	for _, m := range s.infoMessages() {
		if m == msg {
			return true
		}
	}
	return false
}
