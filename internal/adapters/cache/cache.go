package cache

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// SourceCache keeps the most recent value of every registered source.
//
// Sources are registered single-threaded at startup and the cache is then
// sealed; after that the slot map is read-only and each Put is one atomic
// pointer swap, so writers on different sources never contend and readers
// always observe a complete value.
type SourceCache struct {
	slots  map[string]*slot
	sealed atomic.Bool
	now    func() time.Time
}

type slot struct {
	latest  atomic.Pointer[entry]
	updates atomic.Uint64
}

type entry struct {
	value any
	at    time.Time
}

// SourceStats describes the update activity of one source.
type SourceStats struct {
	Key        string
	Updates    uint64
	LastUpdate time.Time
	HasValue   bool
}

func NewSourceCache() *SourceCache {
	return &SourceCache{
		slots: make(map[string]*slot),
		now:   time.Now,
	}
}

// Register adds a source. It must not run concurrently with Put or Get.
func (c *SourceCache) Register(key string) error {
	if c.sealed.Load() {
		return fmt.Errorf("register %q: cache is sealed", key)
	}
	if key == "" {
		return fmt.Errorf("%w: source key is empty", domain.ErrInvalidConfig)
	}
	if _, ok := c.slots[key]; ok {
		return fmt.Errorf("%w: source %q registered twice", domain.ErrInvalidConfig, key)
	}
	c.slots[key] = &slot{}
	return nil
}

// Seal freezes the set of sources. Put and Get are safe for concurrent use
// once the cache is sealed.
func (c *SourceCache) Seal() { c.sealed.Store(true) }

// Put replaces the value of key. It reports false for unregistered keys.
func (c *SourceCache) Put(key string, value any) bool {
	s, ok := c.slots[key]
	if !ok {
		return false
	}
	s.latest.Store(&entry{value: value, at: c.now()})
	s.updates.Add(1)
	return true
}

// Get returns the current value of key, or false when nothing has arrived yet.
func (c *SourceCache) Get(key string) (any, bool) {
	s, ok := c.slots[key]
	if !ok {
		return nil, false
	}
	e := s.latest.Load()
	if e == nil {
		return nil, false
	}
	return e.value, true
}

func (c *SourceCache) Keys() []string {
	keys := make([]string, 0, len(c.slots))
	for k := range c.slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *SourceCache) Stats() []SourceStats {
	out := make([]SourceStats, 0, len(c.slots))
	for _, k := range c.Keys() {
		s := c.slots[k]
		st := SourceStats{Key: k, Updates: s.updates.Load()}
		if e := s.latest.Load(); e != nil {
			st.HasValue = true
			st.LastUpdate = e.at
		}
		out = append(out, st)
	}
	return out
}

var (
	_ ports.SourceReader = (*SourceCache)(nil)
	_ ports.SourceWriter = (*SourceCache)(nil)
)
