package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// MemoryBackend keeps contexts in a process-local map.
type MemoryBackend struct {
	mu       sync.RWMutex
	contexts map[string]models.ConversationContext
}

// Compile-time check that MemoryBackend implements Backend.
var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{contexts: make(map[string]models.ConversationContext)}
}

func (m *MemoryBackend) Load(ctx context.Context, phone string) (models.ConversationContext, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[phone]
	if !ok {
		return models.ConversationContext{}, false, nil
	}
	return c.Clone(), true, nil
}

func (m *MemoryBackend) Save(ctx context.Context, c models.ConversationContext, expectedVersion int64) (models.ConversationContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if existing, ok := m.contexts[c.PhoneNumber]; ok {
		current = existing.Version
	}
	if expectedVersion != AnyVersion && expectedVersion != current {
		return models.ConversationContext{}, ErrVersionConflict
	}
	saved := c.Clone()
	saved.Version = current + 1
	m.contexts[c.PhoneNumber] = saved
	return saved.Clone(), nil
}

func (m *MemoryBackend) Delete(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, phone)
	return nil
}

func (m *MemoryBackend) ScanExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var expired []string
	for phone, c := range m.contexts {
		if c.LastMessageAt.Before(cutoff) {
			expired = append(expired, phone)
		}
	}
	sort.Strings(expired)
	return expired, nil
}

// Len returns the number of stored contexts.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}
