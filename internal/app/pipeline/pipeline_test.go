package pipeline

import (
	"sync"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

type mockObs struct {
	mu       sync.Mutex
	counters map[string]float64
	warns    []string
	infos    []string
	errors   []error
}

func newMockObs() *mockObs { return &mockObs{counters: make(map[string]float64)} }

func (m *mockObs) LogDebug(string, ...ports.Field) {}
func (m *mockObs) LogInfo(msg string, _ ...ports.Field) {
	m.mu.Lock()
	m.infos = append(m.infos, msg)
	m.mu.Unlock()
}
func (m *mockObs) LogWarn(msg string, _ ...ports.Field) {
	m.mu.Lock()
	m.warns = append(m.warns, msg)
	m.mu.Unlock()
}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	m.counters[name] += v
	m.mu.Unlock()
}
func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(string, float64)       {}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

type mapCache struct {
	mu     sync.Mutex
	values map[string]any
}

func newMapCache(keys ...string) *mapCache {
	c := &mapCache{values: make(map[string]any)}
	for _, k := range keys {
		c.values[k] = nil
	}
	return c
}

func (c *mapCache) Put(key string, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		return false
	}
	c.values[key] = value
	return true
}

func (c *mapCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.values[key]
	return v, v != nil
}

type sliceStore struct {
	mu   sync.Mutex
	rows []domain.Row
	// block, when set, is waited on inside Append to hold a tick open.
	block chan struct{}
}

func (s *sliceStore) Append(row domain.Row) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.rows = append(s.rows, row)
	s.mu.Unlock()
}

func (s *sliceStore) snapshot() []domain.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Row(nil), s.rows...)
}
