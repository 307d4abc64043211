package conversation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(backend Backend) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)}
	return NewStore(backend, WithClock(clock.Now)), clock
}

// storeSuite runs the lifecycle checks against any backend.
func storeSuite(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("GetCreatesFreshContext", func(t *testing.T) {
		s, clock := newTestStore(newBackend(t))
		c, err := s.Get(ctx, "+33600000001")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if c.State != models.StateGreeting || !c.IsFirstMessage || len(c.SelectedTopics) != 0 || len(c.History) != 0 {
			t.Errorf("unexpected fresh context: %+v", c)
		}
		if !c.LastMessageAt.Equal(clock.Now()) {
			t.Errorf("LastMessageAt = %v, want %v", c.LastMessageAt, clock.Now())
		}
	})

	t.Run("GetRefreshesLastMessageAt", func(t *testing.T) {
		s, clock := newTestStore(newBackend(t))
		first, _ := s.Get(ctx, "+33600000002")
		clock.Advance(time.Hour)
		second, err := s.Get(ctx, "+33600000002")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !second.LastMessageAt.Equal(clock.Now()) {
			t.Errorf("LastMessageAt not refreshed: %v", second.LastMessageAt)
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Errorf("CreatedAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
		}
	})

	t.Run("UpdateIsIdempotent", func(t *testing.T) {
		s, _ := newTestStore(newBackend(t))
		state := models.StateSelectingFrequency
		topics := []string{"Technologie", "Finance"}
		patch := models.ContextPatch{State: &state, SelectedTopics: &topics}

		once, err := s.Update(ctx, "+33600000003", patch)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		twice, err := s.Update(ctx, "+33600000003", patch)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		once.Version, twice.Version = 0, 0
		if !reflect.DeepEqual(normalize(once), normalize(twice)) {
			t.Errorf("update not idempotent:\n%+v\n%+v", once, twice)
		}
		if twice.State != models.StateSelectingFrequency || !reflect.DeepEqual(twice.SelectedTopics, topics) {
			t.Errorf("patch not merged: %+v", twice)
		}
	})

	t.Run("InitializeOverwrites", func(t *testing.T) {
		s, _ := newTestStore(newBackend(t))
		state := models.StateActive
		if _, err := s.Update(ctx, "+33600000004", models.ContextPatch{State: &state}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		c, err := s.Initialize(ctx, "+33600000004")
		if err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if c.State != models.StateGreeting || !c.IsFirstMessage {
			t.Errorf("Initialize did not reset: %+v", c)
		}
	})

	t.Run("ResetDeletes", func(t *testing.T) {
		s, _ := newTestStore(newBackend(t))
		first := false
		if _, err := s.Update(ctx, "+33600000005", models.ContextPatch{IsFirstMessage: &first}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if err := s.Reset(ctx, "+33600000005"); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		c, err := s.Get(ctx, "+33600000005")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !c.IsFirstMessage {
			t.Error("context survived Reset")
		}
	})

	t.Run("CleanupRemovesOnlyStale", func(t *testing.T) {
		s, clock := newTestStore(newBackend(t))
		if _, err := s.Get(ctx, "+33600000006"); err != nil {
			t.Fatalf("Get stale: %v", err)
		}
		clock.Advance(2 * time.Hour)
		if _, err := s.Get(ctx, "+33600000007"); err != nil {
			t.Fatalf("Get fresh: %v", err)
		}
		clock.Advance(23 * time.Hour) // stale is 25h old, fresh is 23h old

		removed, err := s.Cleanup(ctx, DefaultMaxAge)
		if err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
		if removed != 1 {
			t.Errorf("removed = %d, want 1", removed)
		}
		remaining, err := s.backend.ScanExpired(ctx, clock.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("ScanExpired: %v", err)
		}
		if len(remaining) != 1 || remaining[0] != "+33600000007" {
			t.Errorf("remaining contexts = %v", remaining)
		}
	})

	t.Run("CommitRejectsStaleVersion", func(t *testing.T) {
		s, _ := newTestStore(newBackend(t))
		read, err := s.Get(ctx, "+33600000008")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		draft := read.Clone()
		draft.State = models.StateSelectingTopics
		if _, err := s.Commit(ctx, draft); err != nil {
			t.Fatalf("first commit: %v", err)
		}
		stale := read.Clone()
		stale.State = models.StateActive
		if _, err := s.Commit(ctx, stale); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
		got, _ := s.Get(ctx, "+33600000008")
		if got.State != models.StateSelectingTopics {
			t.Errorf("stale commit overwrote state: %s", got.State)
		}
	})
}

// normalize strips location and monotonic clock data so DeepEqual compares instants.
func normalize(c models.ConversationContext) models.ConversationContext {
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastMessageAt = c.LastMessageAt.UTC()
	return c
}

func TestStoreWithMemoryBackend(t *testing.T) {
	storeSuite(t, func(t *testing.T) Backend { return NewMemoryBackend() })
}

func TestMemoryBackendSaveVersions(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	c := models.NewConversationContext("+1", time.Now())
	saved, err := b.Save(ctx, c, 0)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Version != 1 {
		t.Errorf("Version = %d, want 1", saved.Version)
	}
	if _, err := b.Save(ctx, c, 0); err != ErrVersionConflict {
		t.Errorf("expected conflict, got %v", err)
	}
	forced, err := b.Save(ctx, c, AnyVersion)
	if err != nil || forced.Version != 2 {
		t.Errorf("AnyVersion save = %d, %v", forced.Version, err)
	}
}

func TestAppendTurnKeepsLastTen(t *testing.T) {
	c := models.NewConversationContext("+1", time.Now())
	for i := 0; i < 11; i++ {
		AppendTurn(&c, models.RoleUser, fmt.Sprintf("m%d", i))
	}
	if len(c.History) != models.MaxHistoryTurns {
		t.Fatalf("len(History) = %d, want %d", len(c.History), models.MaxHistoryTurns)
	}
	for i, turn := range c.History {
		if want := fmt.Sprintf("m%d", i+1); turn.Content != want {
			t.Errorf("History[%d] = %q, want %q", i, turn.Content, want)
		}
	}
}

func TestRecentTurns(t *testing.T) {
	history := []models.Turn{{Content: "a"}, {Content: "b"}, {Content: "c"}}
	got := RecentTurns(history, 2)
	if len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
		t.Errorf("RecentTurns = %+v", got)
	}
	if len(RecentTurns(history, 10)) != 3 {
		t.Error("RecentTurns should cap at history length")
	}
	if RecentTurns(nil, 4) != nil {
		t.Error("RecentTurns(nil) should be nil")
	}
}
