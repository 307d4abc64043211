// Package digest delivers the scheduled premium syntheses.
//
// Runner is invoked hourly by the scheduler. For every active subscriber whose
// delivery slot is the current hour it generates a synthesis and enqueues it in
// the outbox; Deliverer is the outbox callback that sends it and records the
// Synthesis.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/news"
	"github.com/Hartzala/whatsapp-news-assistant/internal/store"
)

// Kind tags digest messages in the outbox.
const Kind = "digest"

// DefaultArticlesPerTopic is how many articles feed each topic of a digest.
const DefaultArticlesPerTopic = 3

const footer = "\n\n---\nRépondez avec *aide* pour voir les commandes disponibles."

// ShouldSend reports whether prefs are due in the hour containing now.
// Daily digests go out every day at SendTime, weekly ones on Monday at SendTime,
// both in the user's timezone.
func ShouldSend(prefs models.Preferences, now time.Time) bool {
	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil || prefs.Timezone == "" {
		loc = time.UTC
	}
	sendTime := prefs.SendTime
	if sendTime == "" {
		sendTime = models.DefaultSendTime
	}
	at, err := time.Parse("15:04", sendTime)
	if err != nil {
		return false
	}
	local := now.In(loc)
	if local.Hour() != at.Hour() {
		return false
	}
	switch prefs.Frequency {
	case models.FrequencyDaily:
		return true
	case models.FrequencyWeekly:
		return local.Weekday() == time.Monday
	}
	return false
}

// DedupeKey identifies the digest of one user for one hourly window.
func DedupeKey(userID int64, now time.Time) string {
	return fmt.Sprintf("digest:%d:%s", userID, now.UTC().Format("2006-01-02-15"))
}

// DaysBack is the article window of a digest.
func DaysBack(f models.Frequency) int {
	if f == models.FrequencyDaily {
		return 1
	}
	return 7
}

// Payload is the outbox body of a digest message.
type Payload struct {
	UserID       int64    `json:"user_id"`
	Topics       []string `json:"topics"`
	Content      string   `json:"content"`
	ArticleCount int      `json:"article_count"`
}

// Compose renders the WhatsApp body of a digest.
func Compose(f models.Frequency, topics []string, content string, now time.Time) string {
	msg := news.DigestHeader(f, now) + "Thèmes: " + strings.Join(topics, ", ") + "\n\n" + content + footer
	return news.FormatForWhatsApp(msg, news.MaxWhatsAppLength)
}

// Summary counts what one run did.
type Summary struct {
	Due      int
	Enqueued int
	Failed   int
	Skipped  bool // another instance holds the run lock
}

// Runner generates due digests.
type Runner struct {
	subscribers      store.SubscriberRepo
	outbox           store.OutboxRepo
	synth            news.Synthesizer
	lock             Lock
	articlesPerTopic int
	now              func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLock makes concurrent instances run each hourly window once.
func WithLock(l Lock) Option {
	return func(r *Runner) { r.lock = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithArticlesPerTopic overrides DefaultArticlesPerTopic.
func WithArticlesPerTopic(n int) Option {
	return func(r *Runner) { r.articlesPerTopic = n }
}

// NewRunner creates a Runner.
func NewRunner(subscribers store.SubscriberRepo, outbox store.OutboxRepo, synth news.Synthesizer, opts ...Option) *Runner {
	r := &Runner{
		subscribers:      subscribers,
		outbox:           outbox,
		synth:            synth,
		articlesPerTopic: DefaultArticlesPerTopic,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run enqueues the digests due now. Failures for one user are logged and
// counted without stopping the run.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	now := r.now()
	var sum Summary

	if r.lock != nil {
		key := "digest:run:" + now.UTC().Format("2006-01-02-15")
		ok, err := r.lock.Acquire(ctx, key, time.Hour)
		if err != nil {
			return sum, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			slog.Info("Runner.Run: window already handled by another instance", "key", key)
			sum.Skipped = true
			return sum, nil
		}
	}

	subs, err := r.subscribers.ListActiveSubscribers(ctx)
	if err != nil {
		return sum, fmt.Errorf("list subscribers: %w", err)
	}
	slog.Info("Runner.Run: starting digest run", "subscribers", len(subs))

	for _, sub := range subs {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		prefs := sub.Preferences
		if !prefs.IsActive || !ShouldSend(prefs, now) {
			continue
		}
		if len(prefs.Topics) == 0 {
			slog.Info("Runner.Run: user has no topics configured", "user_id", sub.User.ID)
			continue
		}
		sum.Due++
		if err := r.enqueue(ctx, sub, now); err != nil {
			sum.Failed++
			slog.Error("Runner.Run: digest failed", "user_id", sub.User.ID, "error", err)
			continue
		}
		sum.Enqueued++
	}
	slog.Info("Runner.Run: digest run completed", "due", sum.Due, "enqueued", sum.Enqueued, "failed", sum.Failed)
	return sum, nil
}

func (r *Runner) enqueue(ctx context.Context, sub models.Subscriber, now time.Time) error {
	key := DedupeKey(sub.User.ID, now)
	existing, err := r.outbox.FindOutboxByDedupeKey(ctx, key)
	if err != nil {
		return fmt.Errorf("dedupe check: %w", err)
	}
	if existing != "" {
		slog.Debug("Runner.enqueue: digest already queued", "user_id", sub.User.ID, "outbox_id", existing)
		return nil
	}

	prefs := sub.Preferences
	result := r.synth.Synthesize(ctx, models.SynthesisRequest{
		Topics:           prefs.Topics,
		ArticlesPerTopic: r.articlesPerTopic,
		DaysBack:         DaysBack(prefs.Frequency),
	})
	if !result.Success || result.Content == "" {
		return fmt.Errorf("synthesis: %s", result.Error)
	}
	payload, err := json.Marshal(Payload{
		UserID:       sub.User.ID,
		Topics:       prefs.Topics,
		Content:      Compose(prefs.Frequency, prefs.Topics, result.Content, now),
		ArticleCount: result.ArticleCount,
	})
	if err != nil {
		return err
	}
	id, err := r.outbox.EnqueueOutboxMessage(ctx, sub.User.PhoneNumber, Kind, string(payload), key)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	slog.Debug("Runner.enqueue: digest queued", "user_id", sub.User.ID, "outbox_id", id, "articles", result.ArticleCount)
	return nil
}
