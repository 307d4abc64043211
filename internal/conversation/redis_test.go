package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisBackend(t *testing.T) Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisBackend(client)
}

func TestStoreWithRedisBackend(t *testing.T) {
	storeSuite(t, newRedisBackend)
}

func TestRedisBackendRoundTrip(t *testing.T) {
	b := newRedisBackend(t)
	ctx := context.Background()
	id := int64(42)
	c := models.NewConversationContext("+33611111111", time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))
	c.UserID = &id
	c.SelectedTopics = []string{"Sport", "Science"}
	c.SelectedFrequency = models.FrequencyDaily
	c.History = []models.Turn{{Role: models.RoleUser, Content: "bonjour"}}

	if _, err := b.Save(ctx, c, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := b.Load(ctx, "+33611111111")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.UserID == nil || *got.UserID != 42 || got.SelectedFrequency != models.FrequencyDaily {
		t.Errorf("fields lost in round trip: %+v", got)
	}
	if len(got.SelectedTopics) != 2 || got.SelectedTopics[1] != "Science" {
		t.Errorf("topics order lost: %v", got.SelectedTopics)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
}

func TestRedisBackendConflict(t *testing.T) {
	b := newRedisBackend(t)
	ctx := context.Background()
	c := models.NewConversationContext("+33622222222", time.Now())
	if _, err := b.Save(ctx, c, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := b.Save(ctx, c, 0); err != ErrVersionConflict {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
	if err := b.Delete(ctx, "+33622222222"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := b.Load(ctx, "+33622222222"); ok {
		t.Error("context still present after Delete")
	}
}
