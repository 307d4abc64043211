package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/util"
)

// InMemoryStore keeps every repository in process memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	nextUserID    int64
	nextSynthesis int64
	users         map[int64]models.User
	byPhone       map[string]int64
	subscriptions map[int64]models.Subscription
	preferences   map[int64]models.Preferences
	syntheses     []models.Synthesis
	receipts      []models.Receipt
	dedup         map[string]DedupRecord
	outbox        map[string]*OutboxMessage
	outboxOrder   []string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:         make(map[int64]models.User),
		byPhone:       make(map[string]int64),
		subscriptions: make(map[int64]models.Subscription),
		preferences:   make(map[int64]models.Preferences),
		dedup:         make(map[string]DedupRecord),
		outbox:        make(map[string]*OutboxMessage),
	}
}

func (s *InMemoryStore) GetOrCreateUserByPhone(ctx context.Context, phone string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPhone[phone]; ok {
		return s.users[id], nil
	}
	s.nextUserID++
	now := utcNow()
	u := models.User{ID: s.nextUserID, PhoneNumber: phone, CreatedAt: now, UpdatedAt: now}
	s.users[u.ID] = u
	s.byPhone[phone] = u.ID
	return u, nil
}

func (s *InMemoryStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemoryStore) GetSubscriptionStatus(ctx context.Context, userID int64) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (s *InMemoryStore) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	if !sub.Status.IsValid() {
		return fmt.Errorf("invalid subscription status %q", sub.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.UpdatedAt = utcNow()
	s.subscriptions[sub.UserID] = sub
	return nil
}

func (s *InMemoryStore) SavePreferences(ctx context.Context, prefs models.Preferences) error {
	if err := prefs.Normalize(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs.Topics = append([]string{}, prefs.Topics...)
	prefs.UpdatedAt = utcNow()
	s.preferences[prefs.UserID] = prefs
	return nil
}

func (s *InMemoryStore) GetPreferences(ctx context.Context, userID int64) (models.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[userID]
	if !ok {
		return models.Preferences{}, ErrNotFound
	}
	p.Topics = append([]string{}, p.Topics...)
	return p, nil
}

func (s *InMemoryStore) CreateSynthesis(ctx context.Context, syn models.Synthesis) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSynthesis++
	syn.ID = s.nextSynthesis
	if syn.SentAt.IsZero() {
		syn.SentAt = utcNow()
	}
	syn.Topics = append([]string{}, syn.Topics...)
	s.syntheses = append(s.syntheses, syn)
	return syn.ID, nil
}

func (s *InMemoryStore) ListSyntheses(ctx context.Context, userID int64, limit int) ([]models.Synthesis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Synthesis{}
	for i := len(s.syntheses) - 1; i >= 0; i-- {
		if s.syntheses[i].UserID == userID {
			out = append(out, s.syntheses[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if limit = defaultLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListActiveSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Subscriber
	for userID, sub := range s.subscriptions {
		if !sub.IsActive() {
			continue
		}
		prefs, ok := s.preferences[userID]
		if !ok {
			continue
		}
		prefs.Topics = append([]string{}, prefs.Topics...)
		out = append(out, models.Subscriber{User: s.users[userID], Preferences: prefs, Subscription: sub})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out, nil
}

func (s *InMemoryStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Receipt(nil), s.receipts...), nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, Phone: phone, ReceivedAt: utcNow()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := utcNow()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(ctx context.Context, phone, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id := s.findByDedupeKey(dedupeKey); id != "" {
		return id, nil
	}
	now := utcNow()
	m := &OutboxMessage{
		ID:          util.GenerateRandomID("outbox_", 32),
		Phone:       phone,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.outbox[m.ID] = m
	s.outboxOrder = append(s.outboxOrder, m.ID)
	return m.ID, nil
}

func (s *InMemoryStore) FindOutboxByDedupeKey(ctx context.Context, dedupeKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByDedupeKey(dedupeKey), nil
}

func (s *InMemoryStore) findByDedupeKey(dedupeKey string) string {
	if dedupeKey == "" {
		return ""
	}
	for _, id := range s.outboxOrder {
		m := s.outbox[id]
		if m.DedupeKey == dedupeKey && m.Status != OutboxStatusCanceled {
			return m.ID
		}
	}
	return ""
}

func (s *InMemoryStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutboxMessage
	for _, id := range s.outboxOrder {
		if len(out) >= limit {
			break
		}
		m := s.outbox[id]
		if m.Status != OutboxStatusQueued || (m.NextAttemptAt != nil && m.NextAttemptAt.After(now)) {
			continue
		}
		lockedAt := now
		m.Status = OutboxStatusSending
		m.LockedAt = &lockedAt
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		next := nextAttemptAt
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &next
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) GiveUpOutboxMessage(ctx context.Context, id string, errMsg string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusFailed
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = utcNow()
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a snapshot of the outbox in enqueue order.
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OutboxMessage, 0, len(s.outboxOrder))
	for _, id := range s.outboxOrder {
		out = append(out, *s.outbox[id])
	}
	return out
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return ErrNotFound
	}
	fn(m)
	m.UpdatedAt = utcNow()
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
