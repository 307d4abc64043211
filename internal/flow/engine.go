// Package flow implements the conversational engine: it classifies each inbound
// message, routes it through the dialogue policy to a response generator and
// commits the resulting conversation context atomically.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/conversation"
	"github.com/Hartzala/whatsapp-news-assistant/internal/intent"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/news"
	"github.com/Hartzala/whatsapp-news-assistant/internal/ratelimit"
)

// Engine defaults.
const (
	DefaultMinConfidence = 0.3
	DefaultCallTimeout   = 45 * time.Second
)

// ContextStore loads and atomically commits conversation contexts.
type ContextStore interface {
	Get(ctx context.Context, phone string) (models.ConversationContext, error)
	Commit(ctx context.Context, next models.ConversationContext) (models.ConversationContext, error)
}

var _ ContextStore = (*conversation.Store)(nil)

// ReplyGenerator writes free-form replies grounded on recent history.
type ReplyGenerator interface {
	GenerateWithHistory(ctx context.Context, systemPrompt string, history []models.Turn, userMessage string) (string, error)
}

// SubscriptionLookup returns a user's subscription, or nil when there is none.
type SubscriptionLookup interface {
	GetSubscriptionStatus(ctx context.Context, userID int64) (*models.Subscription, error)
}

// PreferencesWriter persists delivery preferences.
type PreferencesWriter interface {
	SavePreferences(ctx context.Context, prefs models.Preferences) error
}

// Deps are the collaborators of the engine. All are required.
type Deps struct {
	Store         ContextStore
	Classifier    intent.Classifier
	Replies       ReplyGenerator
	Synthesizer   news.Synthesizer
	Limiter       ratelimit.Limiter
	Subscriptions SubscriptionLookup
	Preferences   PreferencesWriter
}

// Opts holds configuration options for the Engine.
type Opts struct {
	MinConfidence float64
	CallTimeout   time.Duration
	FreeQuestions int
	Links         Links
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithMinConfidence sets the confidence under which every intent goes to the fallback.
func WithMinConfidence(v float64) Option {
	return func(o *Opts) { o.MinConfidence = v }
}

// WithCallTimeout bounds each external call made during a turn.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Opts) { o.CallTimeout = d }
}

// WithFreeQuestions sets the daily free quota shown in user-facing texts.
func WithFreeQuestions(n int) Option {
	return func(o *Opts) { o.FreeQuestions = n }
}

// WithLinks sets the login, dashboard and checkout URLs.
func WithLinks(l Links) Option {
	return func(o *Opts) { o.Links = l }
}

// Engine handles inbound messages one turn at a time per phone number.
type Engine struct {
	deps     Deps
	opts     Opts
	table    *DispatchTable
	keyLocks *keyedMutex
}

// NewEngine wires the default dispatch table.
func NewEngine(deps Deps, opts ...Option) (*Engine, error) {
	if deps.Store == nil || deps.Classifier == nil || deps.Replies == nil || deps.Synthesizer == nil ||
		deps.Limiter == nil || deps.Subscriptions == nil || deps.Preferences == nil {
		return nil, fmt.Errorf("flow engine dependencies not properly initialized")
	}
	cfg := Opts{
		MinConfidence: DefaultMinConfidence,
		CallTimeout:   DefaultCallTimeout,
		FreeQuestions: ratelimit.DefaultDailyLimit,
		Links:         DefaultLinks,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{deps: deps, opts: cfg, keyLocks: newKeyedMutex()}
	e.table = NewDispatchTable("fallback", e.handleFallback)
	e.table.Register(AnyState, models.IntentAskQuestion, "question", e.handleQuestion)
	e.table.Register(AnyState, models.IntentSetTopics, "topics", e.handleTopics)
	e.table.Register(AnyState, models.IntentSetFrequency, "frequency", e.handleFrequency)
	e.table.Register(AnyState, models.IntentConfirm, "subscription", e.handleSubscription)
	e.table.Register(AnyState, models.IntentHelp, "help", e.handleHelp)
	return e, nil
}

// Table exposes the dispatch table so callers can register additional routes.
func (e *Engine) Table() *DispatchTable {
	return e.table
}

// HandleInboundMessage runs one conversational turn. It never returns an error:
// failures produce Success=false with a non-empty apology and nothing is committed.
func (e *Engine) HandleInboundMessage(ctx context.Context, phone, text string, userID *int64) (result models.InboundResult) {
	unlock := e.keyLocks.Lock(phone)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.HandleInboundMessage: panic recovered", "phone", phone, "panic", r, "stack", string(debug.Stack()))
			result = failedResult(fmt.Errorf("panic: %v", r))
		}
	}()

	res, err := e.runTurn(ctx, phone, text, userID)
	if err != nil {
		slog.Error("Engine.HandleInboundMessage: turn failed", "phone", phone, "error", err)
		return failedResult(err)
	}
	return res
}

func failedResult(err error) models.InboundResult {
	return models.InboundResult{
		Success:  false,
		Response: ApologyMessage,
		Error:    err.Error(),
		Outcome:  models.OutcomeFailed,
	}
}

func (e *Engine) runTurn(ctx context.Context, phone, text string, userID *int64) (models.InboundResult, error) {
	current, err := e.deps.Store.Get(ctx, phone)
	if err != nil {
		return models.InboundResult{}, fmt.Errorf("load context: %w", err)
	}
	draft := current.Clone()
	if userID != nil {
		id := *userID
		draft.UserID = &id
	}
	conversation.AppendTurn(&draft, models.RoleUser, text)

	turn := &Turn{Phone: phone, Message: text, UserID: draft.UserID, Draft: &draft}
	var (
		reply   Reply
		handler string
	)
	if draft.IsFirstMessage {
		// The first turn always gets the menu, whatever the message says.
		handler = "first_message"
		turn.Intent = models.IntentResult{Intent: models.IntentGreeting, Confidence: 1}
		draft.State = models.StateGreeting
		draft.IsFirstMessage = false
		reply = Reply{Text: GreetingMessage(e.opts.FreeQuestions), Outcome: models.OutcomeHandled}
	} else {
		cctx, cancel := e.callContext(ctx)
		turn.Intent = e.deps.Classifier.Classify(cctx, text, draft)
		cancel()

		var fn HandlerFunc
		if turn.Intent.Degraded || turn.Intent.Confidence < e.opts.MinConfidence {
			handler, fn = e.table.Fallback()
		} else {
			handler, fn = e.table.Lookup(draft.State, turn.Intent.Intent)
		}
		reply, err = fn(ctx, turn)
		if err != nil {
			return models.InboundResult{}, fmt.Errorf("%s handler: %w", handler, err)
		}
	}
	if reply.Text == "" {
		return models.InboundResult{}, fmt.Errorf("%s handler produced an empty reply", handler)
	}
	if reply.Outcome == "" {
		reply.Outcome = models.OutcomeHandled
	}

	conversation.AppendTurn(&draft, models.RoleAssistant, reply.Text)
	if _, err := e.deps.Store.Commit(ctx, draft); err != nil {
		if errors.Is(err, conversation.ErrVersionConflict) {
			slog.Warn("Engine.runTurn: context changed during the turn", "phone", phone)
		}
		return models.InboundResult{}, fmt.Errorf("commit context: %w", err)
	}

	slog.Info("Engine.runTurn: turn handled", "phone", phone, "intent", turn.Intent.Intent,
		"confidence", turn.Intent.Confidence, "handler", handler, "outcome", reply.Outcome, "state", draft.State)
	return models.InboundResult{
		Success:   true,
		Response:  reply.Text,
		Outcome:   reply.Outcome,
		Intent:    turn.Intent.Intent,
		State:     draft.State,
		Remaining: reply.Remaining,
	}, nil
}

// callContext derives the context of one external call.
func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.CallTimeout)
}
