package store

import (
	"context"
	"sync"
)

// Memory is an in-process Backend. Used by tests and STORE_DRIVER=memory.
type Memory[T any] struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]Record[T]
}

func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{records: map[string]Record[T]{}}
}

func (m *Memory[T]) FindByPublicID(_ context.Context, publicID string) (Record[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[publicID]
	if !ok {
		return Record[T]{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory[T]) Insert(_ context.Context, rec Record[T]) (Record[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.Meta.PublicID]; exists {
		return Record[T]{}, ErrConflict
	}
	m.nextID++
	rec.ID = m.nextID
	m.records[rec.Meta.PublicID] = rec
	return rec, nil
}

func (m *Memory[T]) CompareAndSwap(_ context.Context, rec Record[T], expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[rec.Meta.PublicID]
	if !ok || current.Meta.Version != expected {
		return ErrConflict
	}
	rec.ID = current.ID
	m.records[rec.Meta.PublicID] = rec
	return nil
}

func (m *Memory[T]) Delete(_ context.Context, publicID string, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[publicID]
	if !ok || current.Meta.Version != expected {
		return ErrConflict
	}
	delete(m.records, publicID)
	return nil
}

func (m *Memory[T]) Ping(context.Context) error { return nil }

// All returns a snapshot of every stored record.
func (m *Memory[T]) All() []Record[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record[T], 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}
