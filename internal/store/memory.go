package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "db-resilience/internal/errors"
)

type memoryRecord struct {
	record
	pos int64
}

type memoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[string]*memoryRecord
	pos  int64
}

// NewMemoryStore creates a store that keeps documents in process memory
func NewMemoryStore() *Store {
	return &Store{backend: &memoryBackend{docs: make(map[string]map[string]*memoryRecord)}}
}

func (m *memoryBackend) collection(name string) map[string]*memoryRecord {
	c, ok := m.docs[name]
	if !ok {
		c = make(map[string]*memoryRecord)
		m.docs[name] = c
	}
	return c
}

func (m *memoryBackend) insert(ctx context.Context, rec record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(rec.Collection)
	if _, exists := c[rec.ID]; exists {
		return apperrors.NewConflictError(fmt.Sprintf("%s %s already exists", rec.Collection, rec.ID))
	}
	m.pos++
	c[rec.ID] = &memoryRecord{record: rec, pos: m.pos}
	return nil
}

func (m *memoryBackend) update(ctx context.Context, rec record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.collection(rec.Collection)[rec.ID]
	if !ok {
		return apperrors.NewNotFoundError(rec.Collection, rec.ID)
	}
	existing.record = rec
	return nil
}

func (m *memoryBackend) upsert(ctx context.Context, rec record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(rec.Collection)
	if existing, ok := c[rec.ID]; ok {
		existing.record = rec
		return nil
	}
	m.pos++
	c[rec.ID] = &memoryRecord{record: rec, pos: m.pos}
	return nil
}

func (m *memoryBackend) get(ctx context.Context, collection, id string) (record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.docs[collection][id]
	if !ok {
		return record{}, apperrors.NewNotFoundError(collection, id)
	}
	return rec.record, nil
}

func (m *memoryBackend) list(ctx context.Context, q query) ([]record, error) {
	m.mu.RLock()
	matched := make([]memoryRecord, 0, len(m.docs[q.Collection]))
	for _, rec := range m.docs[q.Collection] {
		if q.Parent != "" && rec.Parent != q.Parent {
			continue
		}
		if q.Seq != 0 && rec.Seq != q.Seq {
			continue
		}
		matched = append(matched, *rec)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Seq != b.Seq {
			return a.Seq > b.Seq
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.pos > b.pos
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]record, len(matched))
	for i, rec := range matched {
		out[i] = rec.record
	}
	return out, nil
}

func (m *memoryBackend) close() error {
	return nil
}
