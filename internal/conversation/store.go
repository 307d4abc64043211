package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// DefaultMaxAge is how long an idle context survives the sweep.
const DefaultMaxAge = 24 * time.Hour

// maxSaveAttempts bounds the optimistic retry loop of read-modify-write operations.
const maxSaveAttempts = 3

// Store implements the context lifecycle on top of a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the context for phone, creating a fresh one when absent.
// LastMessageAt is refreshed and persisted on every call.
func (s *Store) Get(ctx context.Context, phone string) (models.ConversationContext, error) {
	return s.modify(ctx, phone, nil)
}

// Initialize overwrites any stored context with a fresh one.
func (s *Store) Initialize(ctx context.Context, phone string) (models.ConversationContext, error) {
	fresh := models.NewConversationContext(phone, s.now())
	saved, err := s.backend.Save(ctx, fresh, AnyVersion)
	if err != nil {
		return models.ConversationContext{}, fmt.Errorf("initialize context: %w", err)
	}
	slog.Debug("Store.Initialize: fresh context stored", "phone", phone)
	return saved, nil
}

// Update merges patch into the stored (or newly created) context and returns the result.
func (s *Store) Update(ctx context.Context, phone string, patch models.ContextPatch) (models.ConversationContext, error) {
	return s.modify(ctx, phone, func(c *models.ConversationContext) { patch.Apply(c) })
}

// Reset deletes the context. The next Get recreates it.
func (s *Store) Reset(ctx context.Context, phone string) error {
	if err := s.backend.Delete(ctx, phone); err != nil {
		return fmt.Errorf("reset context: %w", err)
	}
	slog.Debug("Store.Reset: context removed", "phone", phone)
	return nil
}

// Cleanup removes every context idle for longer than maxAge and returns how many were removed.
// A context refreshed between the scan and the delete is kept.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	phones, err := s.backend.ScanExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup scan: %w", err)
	}
	removed := 0
	for _, phone := range phones {
		c, ok, err := s.backend.Load(ctx, phone)
		if err != nil {
			slog.Warn("Store.Cleanup: load failed, skipping", "phone", phone, "error", err)
			continue
		}
		if ok && !c.LastMessageAt.Before(cutoff) {
			continue
		}
		if err := s.backend.Delete(ctx, phone); err != nil {
			slog.Warn("Store.Cleanup: delete failed", "phone", phone, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Store.Cleanup: removed idle contexts", "count", removed, "max_age", maxAge)
	}
	return removed, nil
}

// Commit atomically stores next if nobody saved the context since next was read.
func (s *Store) Commit(ctx context.Context, next models.ConversationContext) (models.ConversationContext, error) {
	saved, err := s.backend.Save(ctx, next, next.Version)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return models.ConversationContext{}, err
		}
		return models.ConversationContext{}, fmt.Errorf("commit context: %w", err)
	}
	return saved, nil
}

// modify runs a load, mutate, compare-and-swap cycle with a bounded retry on conflicts.
func (s *Store) modify(ctx context.Context, phone string, mutate func(*models.ConversationContext)) (models.ConversationContext, error) {
	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		now := s.now()
		c, ok, err := s.backend.Load(ctx, phone)
		if err != nil {
			return models.ConversationContext{}, fmt.Errorf("load context: %w", err)
		}
		if !ok {
			c = models.NewConversationContext(phone, now)
		}
		c.LastMessageAt = now
		if mutate != nil {
			mutate(&c)
		}
		saved, err := s.backend.Save(ctx, c, c.Version)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return models.ConversationContext{}, fmt.Errorf("save context: %w", err)
		}
		lastErr = err
		slog.Debug("Store.modify: version conflict, retrying", "phone", phone, "attempt", attempt+1)
	}
	return models.ConversationContext{}, lastErr
}
