package ratelimit

import (
	"context"
	"sync"
)

type record struct {
	count int
	day   string
}

// MemoryCounter keeps one {count, day} record per phone number in process memory.
type MemoryCounter struct {
	mu      sync.Mutex
	records map[string]record
}

// Compile-time check that MemoryCounter implements CounterStore.
var _ CounterStore = (*MemoryCounter)(nil)

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{records: make(map[string]record)}
}

func (m *MemoryCounter) Count(ctx context.Context, phone, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[phone]
	if !ok || r.day != day {
		m.records[phone] = record{count: 0, day: day}
		return 0, nil
	}
	return r.count, nil
}

func (m *MemoryCounter) Incr(ctx context.Context, phone, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[phone]
	if !ok || r.day != day {
		r = record{day: day}
	}
	r.count++
	m.records[phone] = r
	return r.count, nil
}
