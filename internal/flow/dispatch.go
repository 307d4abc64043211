package flow

import (
	"context"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// AnyState matches every conversation state in a route.
const AnyState models.ConversationState = "*"

// Turn is the input of a handler. Handlers mutate Draft only; the engine commits it.
type Turn struct {
	Phone   string
	Message string
	UserID  *int64
	Intent  models.IntentResult
	Draft   *models.ConversationContext
}

// Reply is what a handler produced for a turn.
type Reply struct {
	Text      string
	Outcome   models.Outcome
	Remaining *int
}

// HandlerFunc produces a reply for a turn. A returned error aborts the turn.
type HandlerFunc func(ctx context.Context, t *Turn) (Reply, error)

type route struct {
	state  models.ConversationState
	intent models.Intent
}

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// DispatchTable maps (state, intent) pairs to handlers, with a fallback for everything else.
type DispatchTable struct {
	routes   map[route]namedHandler
	fallback namedHandler
}

// NewDispatchTable creates a table whose unmatched routes go to fallback.
func NewDispatchTable(fallbackName string, fallback HandlerFunc) *DispatchTable {
	return &DispatchTable{
		routes:   make(map[route]namedHandler),
		fallback: namedHandler{name: fallbackName, fn: fallback},
	}
}

// Register associates a (state, intent) pair with a handler. Use AnyState as a wildcard.
func (d *DispatchTable) Register(state models.ConversationState, in models.Intent, name string, fn HandlerFunc) {
	d.routes[route{state: state, intent: in}] = namedHandler{name: name, fn: fn}
}

// Lookup returns the most specific handler for the pair: exact state first, then
// AnyState, then the fallback.
func (d *DispatchTable) Lookup(state models.ConversationState, in models.Intent) (string, HandlerFunc) {
	if h, ok := d.routes[route{state: state, intent: in}]; ok {
		return h.name, h.fn
	}
	if h, ok := d.routes[route{state: AnyState, intent: in}]; ok {
		return h.name, h.fn
	}
	return d.fallback.name, d.fallback.fn
}

// Fallback returns the fallback handler.
func (d *DispatchTable) Fallback() (string, HandlerFunc) {
	return d.fallback.name, d.fallback.fn
}
