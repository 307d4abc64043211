// Package ratelimit enforces the free-tier daily question quota.
//
// Counts are keyed by phone number and calendar day. A stored day that is not
// today is treated as expired, so the quota resets at midnight in the
// limiter's location without any background job.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultDailyLimit is the number of free questions per day.
const DefaultDailyLimit = 5

// Decision is the result of a quota check.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Used      int  `json:"used"`
}

// Limiter is the quota contract used by the dialogue engine.
type Limiter interface {
	Check(ctx context.Context, phone string) (Decision, error)
	Increment(ctx context.Context, phone string) error
}

// CounterStore persists per-day counts.
type CounterStore interface {
	// Count returns the count recorded for phone on day, resetting stale records.
	Count(ctx context.Context, phone, day string) (int, error)
	// Incr adds one to the count for phone on day and returns the new value.
	Incr(ctx context.Context, phone, day string) (int, error)
}

// DailyQuota is a Limiter allowing Limit() increments per calendar day.
type DailyQuota struct {
	store CounterStore
	limit int
	loc   *time.Location
	now   func() time.Time
}

// Compile-time check that DailyQuota implements Limiter.
var _ Limiter = (*DailyQuota)(nil)

// Option configures a DailyQuota.
type Option func(*DailyQuota)

// WithLimit sets the daily quota.
func WithLimit(n int) Option {
	return func(q *DailyQuota) { q.limit = n }
}

// WithLocation sets the timezone that defines a calendar day. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(q *DailyQuota) { q.loc = loc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *DailyQuota) { q.now = now }
}

// NewDailyQuota creates a limiter over store.
func NewDailyQuota(store CounterStore, opts ...Option) *DailyQuota {
	q := &DailyQuota{store: store, limit: DefaultDailyLimit, loc: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	if q.limit < 0 {
		q.limit = 0
	}
	if q.loc == nil {
		q.loc = time.Local
	}
	return q
}

// Limit returns the configured daily quota.
func (q *DailyQuota) Limit() int { return q.limit }

// DayKey returns the calendar-day key for t.
func (q *DailyQuota) DayKey(t time.Time) string {
	return t.In(q.loc).Format("2006-01-02")
}

// Check reports whether phone may ask another question today.
func (q *DailyQuota) Check(ctx context.Context, phone string) (Decision, error) {
	count, err := q.store.Count(ctx, phone, q.DayKey(q.now()))
	if err != nil {
		return Decision{}, fmt.Errorf("quota check for %s: %w", phone, err)
	}
	if count >= q.limit {
		return Decision{Allowed: false, Remaining: 0, Used: count}, nil
	}
	return Decision{Allowed: true, Remaining: q.limit - count, Used: count}, nil
}

// Increment records one question for phone today.
func (q *DailyQuota) Increment(ctx context.Context, phone string) error {
	n, err := q.store.Incr(ctx, phone, q.DayKey(q.now()))
	if err != nil {
		return fmt.Errorf("quota increment for %s: %w", phone, err)
	}
	slog.Debug("DailyQuota.Increment", "phone", phone, "used", n, "limit", q.limit)
	return nil
}
