package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"syscall"
	"testing"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/conversation"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

type backendCase struct {
	name string
	open func(t *testing.T) (Store, conversation.Backend)
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T) (Store, conversation.Backend) {
			return NewInMemoryStore(), conversation.NewMemoryBackend()
		}},
		{"sqlite", func(t *testing.T) (Store, conversation.Backend) {
			s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "newsbot.db")))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s, s.Contexts()
		}},
		{"postgres", func(t *testing.T) (Store, conversation.Backend) {
			dsn := getenvOrSkip(t, "DATABASE_URL")
			if DetectDSNType(dsn) != "postgres" {
				t.Skip("DATABASE_URL is not a Postgres DSN")
			}
			s, err := NewPostgresStore(WithPostgresDSN(dsn))
			if err != nil {
				t.Skipf("Postgres not available: %v", err)
			}
			s.db.Exec(`TRUNCATE users, subscriptions, user_preferences, syntheses, conversation_contexts, receipts, inbound_dedup, outbox_messages RESTART IDENTITY CASCADE`)
			t.Cleanup(func() { s.Close() })
			return s, s.Contexts()
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, contexts conversation.Backend)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s, contexts := b.open(t)
			fn(t, s, contexts)
		})
	}
}

func TestDetectDSNType(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://user:pw@localhost/newsbot", "postgres"},
		{"postgresql://localhost/newsbot", "postgres"},
		{"host=localhost dbname=newsbot sslmode=disable", "postgres"},
		{"/var/lib/newsbot/newsbot.db", "sqlite3"},
		{"newsbot.db", "sqlite3"},
	}
	for _, tt := range tests {
		if got := DetectDSNType(tt.dsn); got != tt.want {
			t.Errorf("DetectDSNType(%q) = %s, want %s", tt.dsn, got, tt.want)
		}
	}
}

func TestUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ conversation.Backend) {
		ctx := context.Background()
		u1, err := s.GetOrCreateUserByPhone(ctx, "+33612345678")
		if err != nil {
			t.Fatalf("GetOrCreateUserByPhone: %v", err)
		}
		if u1.ID == 0 || u1.PhoneNumber != "+33612345678" {
			t.Fatalf("unexpected user %+v", u1)
		}
		again, err := s.GetOrCreateUserByPhone(ctx, "+33612345678")
		if err != nil {
			t.Fatalf("GetOrCreateUserByPhone again: %v", err)
		}
		if again.ID != u1.ID {
			t.Errorf("second registration created user %d, want %d", again.ID, u1.ID)
		}
		other, _ := s.GetOrCreateUserByPhone(ctx, "+33700000000")
		if other.ID == u1.ID {
			t.Error("distinct phones share a user")
		}

		got, err := s.GetUser(ctx, u1.ID)
		if err != nil || got.PhoneNumber != u1.PhoneNumber {
			t.Errorf("GetUser = %+v, %v", got, err)
		}
		if _, err := s.GetUser(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetUser(unknown) error = %v, want ErrNotFound", err)
		}
	})
}

func TestSubscriptions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ conversation.Backend) {
		ctx := context.Background()
		u, _ := s.GetOrCreateUserByPhone(ctx, "+33612345678")

		sub, err := s.GetSubscriptionStatus(ctx, u.ID)
		if err != nil || sub != nil {
			t.Fatalf("GetSubscriptionStatus before any = %+v, %v; want nil, nil", sub, err)
		}
		if sub.IsActive() {
			t.Error("nil subscription reported active")
		}

		renewal := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		if err := s.UpsertSubscription(ctx, models.Subscription{UserID: u.ID, Status: models.SubscriptionActive, RenewalDate: &renewal}); err != nil {
			t.Fatalf("UpsertSubscription: %v", err)
		}
		sub, err = s.GetSubscriptionStatus(ctx, u.ID)
		if err != nil || !sub.IsActive() {
			t.Fatalf("GetSubscriptionStatus = %+v, %v", sub, err)
		}
		if sub.RenewalDate == nil || !sub.RenewalDate.Equal(renewal) {
			t.Errorf("renewal date = %v, want %v", sub.RenewalDate, renewal)
		}

		if err := s.UpsertSubscription(ctx, models.Subscription{UserID: u.ID, Status: models.SubscriptionCancelled}); err != nil {
			t.Fatalf("UpsertSubscription cancel: %v", err)
		}
		sub, _ = s.GetSubscriptionStatus(ctx, u.ID)
		if sub.IsActive() || sub.RenewalDate != nil {
			t.Errorf("cancelled subscription = %+v", sub)
		}

		if err := s.UpsertSubscription(ctx, models.Subscription{UserID: u.ID, Status: "lifetime"}); err == nil {
			t.Error("expected an error for an unknown status")
		}
	})
}

func TestPreferences(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ conversation.Backend) {
		ctx := context.Background()
		u, _ := s.GetOrCreateUserByPhone(ctx, "+33612345678")

		if _, err := s.GetPreferences(ctx, u.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetPreferences before save error = %v, want ErrNotFound", err)
		}

		topics := []string{"Technologie", "Sport", "Économie"}
		if err := s.SavePreferences(ctx, models.Preferences{UserID: u.ID, Topics: topics, IsActive: true}); err != nil {
			t.Fatalf("SavePreferences: %v", err)
		}
		got, err := s.GetPreferences(ctx, u.ID)
		if err != nil {
			t.Fatalf("GetPreferences: %v", err)
		}
		if !reflect.DeepEqual(got.Topics, topics) {
			t.Errorf("topics = %v, want %v (order preserved)", got.Topics, topics)
		}
		if got.Frequency != models.FrequencyWeekly || got.SendTime != models.DefaultSendTime || got.Timezone != models.DefaultTimezone || !got.IsActive {
			t.Errorf("defaults not applied: %+v", got)
		}

		if err := s.SavePreferences(ctx, models.Preferences{UserID: u.ID, Topics: []string{"Culture"}, Frequency: models.FrequencyDaily, SendTime: "07:30", Timezone: "Europe/Paris"}); err != nil {
			t.Fatalf("SavePreferences overwrite: %v", err)
		}
		got, _ = s.GetPreferences(ctx, u.ID)
		if !reflect.DeepEqual(got.Topics, []string{"Culture"}) || got.Frequency != models.FrequencyDaily || got.SendTime != "07:30" || got.Timezone != "Europe/Paris" || got.IsActive {
			t.Errorf("overwrite not applied: %+v", got)
		}

		if err := s.SavePreferences(ctx, models.Preferences{UserID: u.ID, Timezone: "Mars/Olympus"}); !errors.Is(err, models.ErrInvalidTimezone) {
			t.Errorf("invalid timezone error = %v", err)
		}
	})
}

func TestSyntheses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ conversation.Backend) {
		ctx := context.Background()
		u, _ := s.GetOrCreateUserByPhone(ctx, "+33612345678")
		base := time.Date(2025, 5, 5, 8, 0, 0, 0, time.UTC)

		for i, content := range []string{"lundi", "mardi", "mercredi"} {
			id, err := s.CreateSynthesis(ctx, models.Synthesis{
				UserID:       u.ID,
				Topics:       []string{"Sport"},
				Content:      content,
				ArticleCount: 3,
				MessageID:    "SM" + content,
				SentAt:       base.Add(time.Duration(i) * 24 * time.Hour),
			})
			if err != nil || id == 0 {
				t.Fatalf("CreateSynthesis = %d, %v", id, err)
			}
		}

		list, err := s.ListSyntheses(ctx, u.ID, 2)
		if err != nil {
			t.Fatalf("ListSyntheses: %v", err)
		}
		if len(list) != 2 || list[0].Content != "mercredi" || list[1].Content != "mardi" {
			t.Fatalf("ListSyntheses = %+v, want newest two first", list)
		}
		if !reflect.DeepEqual(list[0].Topics, []string{"Sport"}) || list[0].MessageID != "SMmercredi" {
			t.Errorf("synthesis fields lost: %+v", list[0])
		}

		empty, err := s.ListSyntheses(ctx, 4242, 10)
		if err != nil || len(empty) != 0 {
			t.Errorf("ListSyntheses(unknown) = %v, %v", empty, err)
		}
	})
}

func TestListActiveSubscribers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ conversation.Backend) {
		ctx := context.Background()
		active, _ := s.GetOrCreateUserByPhone(ctx, "+33600000001")
		noPrefs, _ := s.GetOrCreateUserByPhone(ctx, "+33600000002")
		cancelled, _ := s.GetOrCreateUserByPhone(ctx, "+33600000003")

		for _, id := range []int64{active.ID, noPrefs.ID} {
			s.UpsertSubscription(ctx, models.Subscription{UserID: id, Status: models.SubscriptionActive})
		}
		s.UpsertSubscription(ctx, models.Subscription{UserID: cancelled.ID, Status: models.SubscriptionCancelled})
		for _, id := range []int64{active.ID, cancelled.ID} {
			s.SavePreferences(ctx, models.Preferences{UserID: id, Topics: []string{"Science"}, Frequency: models.FrequencyDaily})
		}

		subs, err := s.ListActiveSubscribers(ctx)
		if err != nil {
			t.Fatalf("ListActiveSubscribers: %v", err)
		}
		if len(subs) != 1 {
			t.Fatalf("got %d subscribers, want 1: %+v", len(subs), subs)
		}
		got := subs[0]
		if got.User.ID != active.ID || got.User.PhoneNumber != "+33600000001" {
			t.Errorf("wrong subscriber %+v", got.User)
		}
		if got.Preferences.Frequency != models.FrequencyDaily || !reflect.DeepEqual(got.Preferences.Topics, []string{"Science"}) {
			t.Errorf("preferences not joined: %+v", got.Preferences)
		}
	})
}

func TestReceipts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ conversation.Backend) {
		ctx := context.Background()
		r := models.Receipt{MessageID: "SM1", To: "+123", Status: models.MessageStatusDelivered, Time: 1}
		if err := s.AddReceipt(ctx, r); err != nil {
			t.Fatalf("AddReceipt: %v", err)
		}
		receipts, err := s.GetReceipts(ctx)
		if err != nil {
			t.Fatalf("GetReceipts: %v", err)
		}
		if len(receipts) != 1 || receipts[0] != r {
			t.Errorf("receipts = %+v, want [%+v]", receipts, r)
		}
	})
}

func TestInboundDedup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ conversation.Backend) {
		ctx := context.Background()
		fresh, err := s.RecordInbound(ctx, "SM100", "+33612345678")
		if err != nil || !fresh {
			t.Fatalf("first RecordInbound = %v, %v", fresh, err)
		}
		fresh, err = s.RecordInbound(ctx, "SM100", "+33612345678")
		if err != nil || fresh {
			t.Fatalf("duplicate RecordInbound = %v, %v", fresh, err)
		}
		dup, err := s.IsDuplicate(ctx, "SM100")
		if err != nil || !dup {
			t.Errorf("IsDuplicate = %v, %v", dup, err)
		}
		dup, _ = s.IsDuplicate(ctx, "SM101")
		if dup {
			t.Error("unseen id reported as duplicate")
		}
		if err := s.MarkProcessed(ctx, "SM100"); err != nil {
			t.Errorf("MarkProcessed: %v", err)
		}
	})
}

func TestOutboxLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ conversation.Backend) {
		ctx := context.Background()
		id, err := s.EnqueueOutboxMessage(ctx, "+33612345678", "digest", `{"text":"hello"}`, "digest:1:2025-05-05-08")
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		again, err := s.EnqueueOutboxMessage(ctx, "+33612345678", "digest", `{"text":"hello"}`, "digest:1:2025-05-05-08")
		if err != nil || again != id {
			t.Fatalf("dedupe enqueue = %s, %v; want %s", again, err, id)
		}
		if found, err := s.FindOutboxByDedupeKey(ctx, "digest:1:2025-05-05-08"); err != nil || found != id {
			t.Fatalf("FindOutboxByDedupeKey = %s, %v; want %s", found, err, id)
		}
		if found, err := s.FindOutboxByDedupeKey(ctx, "digest:1:2025-05-05-09"); err != nil || found != "" {
			t.Fatalf("FindOutboxByDedupeKey(unknown) = %s, %v", found, err)
		}

		now := time.Now().UTC()
		claimed, err := s.ClaimDueOutboxMessages(ctx, now, 10)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("Claim = %+v, %v", claimed, err)
		}
		if claimed[0].Status != OutboxStatusSending || claimed[0].Phone != "+33612345678" || claimed[0].PayloadJSON != `{"text":"hello"}` {
			t.Errorf("claimed message = %+v", claimed[0])
		}
		if again, _ := s.ClaimDueOutboxMessages(ctx, now, 10); len(again) != 0 {
			t.Errorf("message claimed twice: %+v", again)
		}

		retryAt := now.Add(time.Minute)
		if err := s.FailOutboxMessage(ctx, id, "timeout", retryAt); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if early, _ := s.ClaimDueOutboxMessages(ctx, now, 10); len(early) != 0 {
			t.Errorf("message claimed before its retry time")
		}
		late, err := s.ClaimDueOutboxMessages(ctx, retryAt.Add(time.Second), 10)
		if err != nil || len(late) != 1 || late[0].Attempts != 1 || late[0].LastError != "timeout" {
			t.Fatalf("retry claim = %+v, %v", late, err)
		}
		if err := s.MarkOutboxMessageSent(ctx, id); err != nil {
			t.Fatalf("MarkSent: %v", err)
		}
		// A sent message still dedupes: the same digest is never delivered twice.
		if again, _ := s.EnqueueOutboxMessage(ctx, "+33612345678", "digest", "{}", "digest:1:2025-05-05-08"); again != id {
			t.Errorf("sent message did not dedupe: %s", again)
		}
	})
}

func TestOutboxRecoveryAndGiveUp(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ conversation.Backend) {
		ctx := context.Background()
		id, _ := s.EnqueueOutboxMessage(ctx, "+33612345678", "reply", "{}", "")
		past := time.Now().UTC().Add(-time.Hour)
		if claimed, _ := s.ClaimDueOutboxMessages(ctx, past, 10); len(claimed) != 1 {
			t.Fatalf("claim failed")
		}
		n, err := s.RequeueStaleSendingMessages(ctx, past.Add(time.Minute))
		if err != nil || n != 1 {
			t.Fatalf("Requeue = %d, %v", n, err)
		}
		if claimed, _ := s.ClaimDueOutboxMessages(ctx, time.Now().UTC(), 10); len(claimed) != 1 {
			t.Fatalf("requeued message not claimable")
		}
		if err := s.GiveUpOutboxMessage(ctx, id, "invalid number"); err != nil {
			t.Fatalf("GiveUp: %v", err)
		}
		if claimed, _ := s.ClaimDueOutboxMessages(ctx, time.Now().UTC().Add(time.Hour), 10); len(claimed) != 0 {
			t.Errorf("failed message claimed again")
		}
	})
}

func TestConversationBackend(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ Store, b conversation.Backend) {
		ctx := context.Background()
		now := time.Date(2025, 5, 5, 8, 0, 0, 0, time.UTC)
		c := models.NewConversationContext("+33612345678", now)
		c.History = []models.Turn{{Role: models.RoleUser, Content: "Bonjour"}}

		saved, err := b.Save(ctx, c, 0)
		if err != nil || saved.Version != 1 {
			t.Fatalf("first Save = v%d, %v", saved.Version, err)
		}
		if _, err := b.Save(ctx, c, 0); !errors.Is(err, conversation.ErrVersionConflict) {
			t.Fatalf("stale Save error = %v, want ErrVersionConflict", err)
		}
		saved.State = models.StateSelectingTopics
		saved.SelectedTopics = []string{"Sport"}
		saved, err = b.Save(ctx, saved, 1)
		if err != nil || saved.Version != 2 {
			t.Fatalf("second Save = v%d, %v", saved.Version, err)
		}
		saved, err = b.Save(ctx, saved, conversation.AnyVersion)
		if err != nil || saved.Version != 3 {
			t.Fatalf("unconditional Save = v%d, %v", saved.Version, err)
		}

		loaded, ok, err := b.Load(ctx, "+33612345678")
		if err != nil || !ok {
			t.Fatalf("Load = %v, %v", ok, err)
		}
		if loaded.Version != 3 || loaded.State != models.StateSelectingTopics || len(loaded.History) != 1 || loaded.SelectedTopics[0] != "Sport" {
			t.Errorf("loaded = %+v", loaded)
		}

		other := models.NewConversationContext("+33700000000", now.Add(2*time.Hour))
		if _, err := b.Save(ctx, other, 0); err != nil {
			t.Fatalf("Save other: %v", err)
		}
		expired, err := b.ScanExpired(ctx, now.Add(time.Hour))
		if err != nil || !reflect.DeepEqual(expired, []string{"+33612345678"}) {
			t.Errorf("ScanExpired = %v, %v", expired, err)
		}

		if err := b.Delete(ctx, "+33612345678"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, ok, _ := b.Load(ctx, "+33612345678"); ok {
			t.Error("context still present after Delete")
		}
		if err := b.Delete(ctx, "+33612345678"); err != nil {
			t.Errorf("Delete missing: %v", err)
		}
	})
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
