package store

import (
	"context"
	"fmt"
	"sync"
)

type table struct {
	headers []string
	rows    [][]string
}

// MemoryStore is the in-memory Tabular implementation used by tests and
// dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*table)}
}

// EnsureEntity implements Tabular.
func (s *MemoryStore) EnsureEntity(_ context.Context, entity string, headers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[entity]; ok {
		return nil
	}
	h := make([]string, len(headers))
	copy(h, headers)
	s.tables[entity] = &table{headers: h}
	return nil
}

// ReadRows implements Tabular. Returned slices are copies.
func (s *MemoryStore) ReadRows(_ context.Context, entity string) ([]string, [][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[entity]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	headers := make([]string, len(t.headers))
	copy(headers, t.headers)
	rows := make([][]string, len(t.rows))
	for i, row := range t.rows {
		rows[i] = make([]string, len(row))
		copy(rows[i], row)
	}
	return headers, rows, nil
}

// WriteRows implements Tabular.
func (s *MemoryStore) WriteRows(_ context.Context, entity string, records []map[string]string, opts WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[entity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	for i, record := range records {
		row := make([]string, len(t.headers))
		for j, header := range t.headers {
			row[j] = record[header]
		}
		if opts.Append {
			t.rows = append(t.rows, row)
			continue
		}
		idx := opts.AtRowIndex + i
		if idx < 0 || idx >= len(t.rows) {
			return fmt.Errorf("row index %d out of range for %s", idx, entity)
		}
		t.rows[idx] = row
	}
	return nil
}

// FindRowMatching implements Tabular.
func (s *MemoryStore) FindRowMatching(_ context.Context, entity string, pred Predicate) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[entity]
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	for i, row := range t.rows {
		record := make(map[string]string, len(t.headers))
		for j, header := range t.headers {
			if j < len(row) {
				record[header] = row[j]
			}
		}
		if pred(record) {
			return i, true, nil
		}
	}
	return 0, false, nil
}

var _ Tabular = (*MemoryStore)(nil)
