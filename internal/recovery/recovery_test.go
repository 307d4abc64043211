package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/store"
)

func TestRecoverAll(t *testing.T) {
	var order []string
	m := NewManager()
	m.Register("first", RecoverFunc(func(context.Context) error {
		order = append(order, "first")
		return nil
	}))
	m.Register("broken", RecoverFunc(func(context.Context) error {
		order = append(order, "broken")
		return errors.New("boom")
	}))
	m.Register("last", RecoverFunc(func(context.Context) error {
		order = append(order, "last")
		return nil
	}))

	err := m.RecoverAll(context.Background())
	if err == nil {
		t.Fatal("expected an error from the broken component")
	}
	if len(order) != 3 || order[0] != "first" || order[2] != "last" {
		t.Errorf("order = %v", order)
	}
	if m.Len() != 3 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestRecoverAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	m := NewManager()
	m.Register("never", RecoverFunc(func(context.Context) error {
		called = true
		return nil
	}))
	if err := m.RecoverAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if called {
		t.Error("component ran after cancellation")
	}
}

func TestRecoverOutbox(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	id, err := st.EnqueueOutboxMessage(ctx, "+33612345678", "digest", `{}`, "")
	if err != nil {
		t.Fatal(err)
	}
	// Claimed by a process that died ten minutes ago.
	if _, err := st.ClaimDueOutboxMessages(ctx, time.Now().Add(-10*time.Minute), 10); err != nil {
		t.Fatal(err)
	}

	sender := store.NewOutboxSender(st, func(context.Context, store.OutboxMessage) error { return nil }, time.Second)
	m := NewManager()
	m.Register("outbox", RecoverFunc(sender.RecoverStaleMessages))
	if err := m.RecoverAll(ctx); err != nil {
		t.Fatalf("RecoverAll: %v", err)
	}
	msgs := st.OutboxMessages()
	if len(msgs) != 1 || msgs[0].ID != id || msgs[0].Status != store.OutboxStatusQueued {
		t.Errorf("outbox = %+v", msgs)
	}
}
