package models

import (
	"strings"
	"time"
)

// ConversationState is the position of a phone number in the onboarding dialogue.
type ConversationState string

const (
	StateGreeting           ConversationState = "greeting"
	StateSelectingTopics    ConversationState = "selecting_topics"
	StateSelectingFrequency ConversationState = "selecting_frequency"
	StateConfirmingSetup    ConversationState = "confirming_setup"
	StateActive             ConversationState = "active"
)

// IsValid reports whether s is one of the known states.
func (s ConversationState) IsValid() bool {
	switch s {
	case StateGreeting, StateSelectingTopics, StateSelectingFrequency, StateConfirmingSetup, StateActive:
		return true
	}
	return false
}

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentGreeting         Intent = "greeting"
	IntentSetTopics        Intent = "set_topics"
	IntentSetFrequency     Intent = "set_frequency"
	IntentConfirm          Intent = "confirm"
	IntentHelp             Intent = "help"
	IntentAskQuestion      Intent = "ask_question"
	IntentSubscribePremium Intent = "subscribe_premium"
	IntentOther            Intent = "other"
)

// AllIntents lists the closed intent taxonomy in a stable order.
var AllIntents = []Intent{
	IntentGreeting,
	IntentSetTopics,
	IntentSetFrequency,
	IntentConfirm,
	IntentHelp,
	IntentAskQuestion,
	IntentSubscribePremium,
	IntentOther,
}

// IsValid reports whether i belongs to the taxonomy.
func (i Intent) IsValid() bool {
	for _, known := range AllIntents {
		if i == known {
			return true
		}
	}
	return false
}

// Frequency is the delivery cadence of premium syntheses.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// IsValid reports whether f is daily or weekly.
func (f Frequency) IsValid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly
}

// Label returns the French adjective used in user-facing text.
func (f Frequency) Label() string {
	if f == FrequencyDaily {
		return "quotidienne"
	}
	return "hebdomadaire"
}

// ParseFrequency normalizes free text into a Frequency. French labels are accepted.
func ParseFrequency(s string) (Frequency, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "quotidien", "quotidienne", "jour", "chaque jour":
		return FrequencyDaily, true
	case "weekly", "hebdomadaire", "semaine", "chaque semaine":
		return FrequencyWeekly, true
	}
	return "", false
}

// Role identifies the author of a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the rolling message history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MaxHistoryTurns bounds ConversationContext.History.
const MaxHistoryTurns = 10

// ConversationContext is the per-phone-number conversation record.
type ConversationContext struct {
	PhoneNumber       string            `json:"phone_number"`
	UserID            *int64            `json:"user_id,omitempty"`
	State             ConversationState `json:"state"`
	SelectedTopics    []string          `json:"selected_topics"`
	SelectedFrequency Frequency         `json:"selected_frequency,omitempty"`
	History           []Turn            `json:"message_history"`
	IsFirstMessage    bool              `json:"is_first_message"`
	CreatedAt         time.Time         `json:"created_at"`
	LastMessageAt     time.Time         `json:"last_message_at"`
	// Version is bumped on every successful save and used for compare-and-swap.
	Version int64 `json:"version"`
}

// NewConversationContext returns a fresh context in the greeting state.
func NewConversationContext(phone string, now time.Time) ConversationContext {
	return ConversationContext{
		PhoneNumber:    phone,
		State:          StateGreeting,
		SelectedTopics: []string{},
		History:        []Turn{},
		IsFirstMessage: true,
		CreatedAt:      now,
		LastMessageAt:  now,
	}
}

// Clone returns a deep copy so a draft can be mutated without touching the original.
func (c ConversationContext) Clone() ConversationContext {
	out := c
	if c.UserID != nil {
		id := *c.UserID
		out.UserID = &id
	}
	out.SelectedTopics = append([]string{}, c.SelectedTopics...)
	out.History = append([]Turn{}, c.History...)
	return out
}

// HasSetup reports whether both topics and frequency have been chosen.
func (c ConversationContext) HasSetup() bool {
	return len(c.SelectedTopics) > 0 && c.SelectedFrequency.IsValid()
}

// ContextPatch is a shallow partial update. Nil fields are left untouched.
type ContextPatch struct {
	UserID            *int64
	State             *ConversationState
	SelectedTopics    *[]string
	SelectedFrequency *Frequency
	History           *[]Turn
	IsFirstMessage    *bool
}

// Apply replaces every non-nil field of p on c.
func (p ContextPatch) Apply(c *ConversationContext) {
	if p.UserID != nil {
		id := *p.UserID
		c.UserID = &id
	}
	if p.State != nil {
		c.State = *p.State
	}
	if p.SelectedTopics != nil {
		c.SelectedTopics = append([]string{}, (*p.SelectedTopics)...)
	}
	if p.SelectedFrequency != nil {
		c.SelectedFrequency = *p.SelectedFrequency
	}
	if p.History != nil {
		c.History = append([]Turn{}, (*p.History)...)
	}
	if p.IsFirstMessage != nil {
		c.IsFirstMessage = *p.IsFirstMessage
	}
}
