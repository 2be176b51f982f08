package rowstore

import (
	"sync"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// MemRowStore is an append-only in-memory table that preserves tick order.
type MemRowStore struct {
	mu      sync.Mutex
	columns []string
	rows    []domain.Row
}

func NewMemRowStore(columns []string, capacity int) *MemRowStore {
	if capacity < 0 {
		capacity = 0
	}
	return &MemRowStore{
		columns: append([]string(nil), columns...),
		rows:    make([]domain.Row, 0, capacity),
	}
}

func (s *MemRowStore) Append(row domain.Row) {
	s.mu.Lock()
	s.rows = append(s.rows, row)
	s.mu.Unlock()
}

// Snapshot returns a copy of every row recorded so far and keeps them.
func (s *MemRowStore) Snapshot() domain.Table {
	s.mu.Lock()
	rows := make([]domain.Row, len(s.rows))
	copy(rows, s.rows)
	s.mu.Unlock()
	return domain.Table{Columns: s.Columns(), Rows: rows}
}

// Drain hands over every row recorded so far and resets the store.
func (s *MemRowStore) Drain() domain.Table {
	s.mu.Lock()
	rows := s.rows
	s.rows = make([]domain.Row, 0, cap(rows))
	s.mu.Unlock()
	return domain.Table{Columns: s.Columns(), Rows: rows}
}

func (s *MemRowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Columns is fixed at construction and needs no locking.
func (s *MemRowStore) Columns() []string {
	return append([]string(nil), s.columns...)
}

var _ ports.RowStore = (*MemRowStore)(nil)
