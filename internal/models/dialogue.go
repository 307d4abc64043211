package models

import (
	"strings"
	"time"
)

// ExtractedData carries the structured fields pulled out of a message.
type ExtractedData struct {
	Topics    []string  `json:"topics,omitempty"`
	Frequency Frequency `json:"frequency,omitempty"`
}

// IntentResult is the classifier's verdict for one message.
type IntentResult struct {
	Intent        Intent         `json:"intent"`
	Confidence    float64        `json:"confidence"`
	ExtractedData *ExtractedData `json:"extracted_data,omitempty"`
	// Degraded is set when the verdict is a local fallback rather than a model answer.
	Degraded bool `json:"degraded,omitempty"`
}

// DegradedIntent is returned when classification could not be performed.
func DegradedIntent() IntentResult {
	return IntentResult{Intent: IntentOther, Confidence: 0, Degraded: true}
}

// Topics returns the extracted topics, if any.
func (r IntentResult) Topics() []string {
	if r.ExtractedData == nil {
		return nil
	}
	return r.ExtractedData.Topics
}

// Frequency returns the extracted frequency, if any.
func (r IntentResult) Frequency() Frequency {
	if r.ExtractedData == nil {
		return ""
	}
	return r.ExtractedData.Frequency
}

// Outcome tags how a turn was answered.
type Outcome string

const (
	// OutcomeHandled means a dedicated handler produced the reply.
	OutcomeHandled Outcome = "handled"
	// OutcomeDegradedFallback means classification or generation failed and a fixed text was used.
	OutcomeDegradedFallback Outcome = "degraded_fallback"
	// OutcomeRateLimited means the free-tier quota refused the question.
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomeFailed means the turn errored and nothing was committed.
	OutcomeFailed Outcome = "failed"
)

// InboundMessage is a user message received from a transport.
type InboundMessage struct {
	MessageID   string    `json:"message_id"`
	From        string    `json:"from"`
	Body        string    `json:"body"`
	ProfileName string    `json:"profile_name,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	// UserID links the message to a known account; when nil the sender is
	// registered by phone number.
	UserID *int64 `json:"user_id,omitempty"`
}

// InboundResult is what the dialogue engine hands back to the transport.
// Response is never empty.
type InboundResult struct {
	Success  bool              `json:"success"`
	Response string            `json:"response"`
	Error    string            `json:"error,omitempty"`
	Outcome  Outcome           `json:"outcome"`
	Intent   Intent            `json:"intent,omitempty"`
	State    ConversationState `json:"state,omitempty"`
	// Remaining is the free-tier quota left after a question, nil when not applicable.
	Remaining *int `json:"remaining,omitempty"`
}

// SendRequest is the JSON body accepted by the operator message endpoint.
type SendRequest struct {
	From   string `json:"from"`
	Body   string `json:"body"`
	UserID *int64 `json:"user_id,omitempty"`
}

// Validate checks the required fields of a SendRequest.
func (r SendRequest) Validate() error {
	if r.From == "" {
		return ErrEmptyRecipient
	}
	if strings.TrimSpace(r.Body) == "" {
		return ErrEmptyBody
	}
	if len(r.Body) > MaxMessageBodyLength {
		return ErrMessageTooLong
	}
	return nil
}
