package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Hartzala/whatsapp-news-assistant/internal/conversation"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/news"
)

// Free-tier questions are answered from general news of the last two days.
const (
	questionArticles = 5
	questionDaysBack = 2
	// fallbackHistoryTurns is how many prior turns ground a fallback reply.
	fallbackHistoryTurns = 4
)

func (e *Engine) handleHelp(ctx context.Context, t *Turn) (Reply, error) {
	return Reply{Text: GreetingMessage(e.opts.FreeQuestions)}, nil
}

// handleTopics validates the extracted topics and, when at least one is known,
// stores their canonical labels and moves on to the frequency question.
func (e *Engine) handleTopics(ctx context.Context, t *Turn) (Reply, error) {
	extracted := t.Intent.Topics()
	if len(extracted) == 0 {
		return Reply{Text: topicsMissingMessage()}, nil
	}
	valid := models.MatchTopics(extracted)
	if len(valid) == 0 {
		slog.Debug("Engine.handleTopics: no known topic", "phone", t.Phone, "extracted", extracted)
		return Reply{Text: topicsInvalidMessage()}, nil
	}
	t.Draft.SelectedTopics = valid
	t.Draft.State = models.StateSelectingFrequency
	return Reply{Text: topicsAcceptedMessage(valid)}, nil
}

func (e *Engine) handleFrequency(ctx context.Context, t *Turn) (Reply, error) {
	f := t.Intent.Frequency()
	if !f.IsValid() {
		return Reply{Text: frequencyMissingMessage}, nil
	}
	t.Draft.SelectedFrequency = f
	t.Draft.State = models.StateConfirmingSetup
	return Reply{Text: frequencyAcceptedMessage(f, t.Draft.SelectedTopics)}, nil
}

// handleSubscription answers "payer": login first, then either the current
// subscription or a checkout link. A linked user with a complete setup also has
// their preferences saved.
func (e *Engine) handleSubscription(ctx context.Context, t *Turn) (Reply, error) {
	if t.UserID == nil {
		return Reply{Text: loginRequiredMessage(e.opts.Links)}, nil
	}
	userID := *t.UserID

	cctx, cancel := e.callContext(ctx)
	sub, err := e.deps.Subscriptions.GetSubscriptionStatus(cctx, userID)
	cancel()
	if err != nil {
		return Reply{}, fmt.Errorf("subscription lookup: %w", err)
	}

	if t.Draft.HasSetup() {
		prefs := models.Preferences{
			UserID:    userID,
			Topics:    append([]string{}, t.Draft.SelectedTopics...),
			Frequency: t.Draft.SelectedFrequency,
			IsActive:  true, // delivery opt-in; only paid subscribers are listed for digests
		}
		if err := prefs.Normalize(); err != nil {
			return Reply{}, fmt.Errorf("preferences: %w", err)
		}
		cctx, cancel := e.callContext(ctx)
		err := e.deps.Preferences.SavePreferences(cctx, prefs)
		cancel()
		if err != nil {
			return Reply{}, fmt.Errorf("save preferences: %w", err)
		}
		slog.Info("Engine.handleSubscription: preferences saved", "user_id", userID, "topics", prefs.Topics, "frequency", prefs.Frequency)
	}

	if sub.IsActive() {
		if t.Draft.HasSetup() {
			t.Draft.State = models.StateActive
		}
		return Reply{Text: alreadySubscribedMessage(e.opts.Links, sub.RenewalDate)}, nil
	}
	return Reply{Text: checkoutMessage(e.opts.Links)}, nil
}

// handleQuestion answers a news question. Premium users are unlimited; free users
// spend one unit of the daily quota before any synthesis is attempted.
func (e *Engine) handleQuestion(ctx context.Context, t *Turn) (Reply, error) {
	premium := false
	if t.UserID != nil {
		cctx, cancel := e.callContext(ctx)
		sub, err := e.deps.Subscriptions.GetSubscriptionStatus(cctx, *t.UserID)
		cancel()
		if err != nil {
			return Reply{}, fmt.Errorf("subscription lookup: %w", err)
		}
		premium = sub.IsActive()
	}

	remaining := 0
	if !premium {
		cctx, cancel := e.callContext(ctx)
		defer cancel()
		decision, err := e.deps.Limiter.Check(cctx, t.Phone)
		if err != nil {
			return Reply{}, fmt.Errorf("quota check: %w", err)
		}
		if !decision.Allowed {
			slog.Info("Engine.handleQuestion: free quota exhausted", "phone", t.Phone, "used", decision.Used)
			zero := 0
			return Reply{Text: UpsellMessage(e.opts.FreeQuestions), Outcome: models.OutcomeRateLimited, Remaining: &zero}, nil
		}
		if err := e.deps.Limiter.Increment(cctx, t.Phone); err != nil {
			return Reply{}, fmt.Errorf("quota increment: %w", err)
		}
		remaining = decision.Remaining - 1
	}

	cctx, cancel := e.callContext(ctx)
	res := e.deps.Synthesizer.Synthesize(cctx, models.SynthesisRequest{
		Topics:           []string{models.GeneralNewsTopic},
		ArticlesPerTopic: questionArticles,
		DaysBack:         questionDaysBack,
		Question:         t.Message,
	})
	cancel()

	var remainingPtr *int
	if !premium {
		remainingPtr = &remaining
	}
	if !res.Success {
		slog.Warn("Engine.handleQuestion: synthesis unavailable", "phone", t.Phone, "error", res.Error)
		if res.Error == news.ErrNoArticles {
			return Reply{Text: noArticlesMessage, Remaining: remainingPtr}, nil
		}
		return Reply{Text: SynthesisFailedMessage, Remaining: remainingPtr}, nil
	}
	return Reply{Text: answerWithFooter(res.Content, premium, remaining), Remaining: remainingPtr}, nil
}

// handleFallback writes a short free-form reply. Generation failures fall back to
// a fixed text and are tagged as degraded.
func (e *Engine) handleFallback(ctx context.Context, t *Turn) (Reply, error) {
	outcome := models.OutcomeHandled
	if t.Intent.Degraded {
		outcome = models.OutcomeDegradedFallback
	}

	prior := t.Draft.History
	if n := len(prior); n > 0 {
		prior = prior[:n-1]
	}
	history := conversation.RecentTurns(prior, fallbackHistoryTurns)

	cctx, cancel := e.callContext(ctx)
	text, err := e.deps.Replies.GenerateWithHistory(cctx, fallbackSystemPrompt(*t.Draft, t.Intent.Intent), history, t.Message)
	cancel()
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		slog.Warn("Engine.handleFallback: no usable reply, using fixed text", "phone", t.Phone, "error", err)
		return Reply{Text: NotUnderstoodMessage, Outcome: models.OutcomeDegradedFallback}, nil
	}
	return Reply{Text: text, Outcome: outcome}, nil
}
