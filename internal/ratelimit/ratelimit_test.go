package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func quotaSuite(t *testing.T, newStore func(t *testing.T) CounterStore) {
	ctx := context.Background()
	phone := "+33612345678"

	t.Run("FiveAllowedThenDenied", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)}
		q := NewDailyQuota(newStore(t), WithClock(clock.Now), WithLocation(time.UTC))

		for i := 1; i <= DefaultDailyLimit; i++ {
			d, err := q.Check(ctx, phone)
			if err != nil {
				t.Fatalf("Check %d: %v", i, err)
			}
			if !d.Allowed {
				t.Fatalf("question %d denied", i)
			}
			if want := DefaultDailyLimit - i + 1; d.Remaining != want {
				t.Errorf("question %d remaining = %d, want %d", i, d.Remaining, want)
			}
			if err := q.Increment(ctx, phone); err != nil {
				t.Fatalf("Increment %d: %v", i, err)
			}
		}

		d, err := q.Check(ctx, phone)
		if err != nil {
			t.Fatalf("Check 6: %v", err)
		}
		if d.Allowed || d.Remaining != 0 {
			t.Errorf("6th check = %+v, want denied with 0 remaining", d)
		}
	})

	t.Run("RolloverResets", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2025, 5, 5, 23, 30, 0, 0, time.UTC)}
		q := NewDailyQuota(newStore(t), WithClock(clock.Now), WithLocation(time.UTC), WithLimit(2))
		for i := 0; i < 2; i++ {
			if err := q.Increment(ctx, phone); err != nil {
				t.Fatalf("Increment: %v", err)
			}
		}
		if d, _ := q.Check(ctx, phone); d.Allowed {
			t.Fatal("expected quota exhausted before midnight")
		}
		clock.t = clock.t.Add(time.Hour)
		d, err := q.Check(ctx, phone)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !d.Allowed || d.Used != 0 || d.Remaining != 2 {
			t.Errorf("after rollover = %+v", d)
		}
	})

	t.Run("PhonesAreIndependent", func(t *testing.T) {
		q := NewDailyQuota(newStore(t), WithLimit(1))
		if err := q.Increment(ctx, "+1111111"); err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if d, _ := q.Check(ctx, "+2222222"); !d.Allowed {
			t.Error("quota leaked across phone numbers")
		}
	})
}

func TestDailyQuotaMemory(t *testing.T) {
	quotaSuite(t, func(t *testing.T) CounterStore { return NewMemoryCounter() })
}

func TestDailyQuotaRedis(t *testing.T) {
	quotaSuite(t, func(t *testing.T) CounterStore {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return NewRedisCounter(client)
	})
}

func TestDayKeyUsesLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	q := NewDailyQuota(NewMemoryCounter(), WithLocation(paris))
	instant := time.Date(2025, 5, 5, 23, 30, 0, 0, time.UTC)
	if got := q.DayKey(instant); got != "2025-05-06" {
		t.Errorf("DayKey = %s, want 2025-05-06", got)
	}
}

func TestMemoryCounterStaleDayResets(t *testing.T) {
	m := NewMemoryCounter()
	ctx := context.Background()
	m.Incr(ctx, "+1", "2025-01-01")
	m.Incr(ctx, "+1", "2025-01-01")
	if n, _ := m.Count(ctx, "+1", "2025-01-02"); n != 0 {
		t.Errorf("stale count = %d, want 0", n)
	}
	if n, _ := m.Incr(ctx, "+1", "2025-01-02"); n != 1 {
		t.Errorf("incr after reset = %d, want 1", n)
	}
}
