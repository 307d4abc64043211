package models

import (
	"encoding/json"
	"time"
)

// Preference defaults applied when a user has not chosen otherwise.
const (
	DefaultSendTime = "08:00"
	DefaultTimezone = "UTC"
)

// User is an account, auto-registered on the first WhatsApp message.
type User struct {
	ID          int64     `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name,omitempty"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SubscriptionStatus is the lifecycle status of a premium subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPending   SubscriptionStatus = "pending"
)

// IsValid reports whether s is a known status.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionActive, SubscriptionPaused, SubscriptionCancelled, SubscriptionPending:
		return true
	}
	return false
}

// Subscription is the premium subscription of a user.
type Subscription struct {
	UserID      int64              `json:"user_id"`
	Status      SubscriptionStatus `json:"status"`
	RenewalDate *time.Time         `json:"renewal_date,omitempty"`
	CancelledAt *time.Time         `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// IsActive reports whether the subscription grants premium features.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionActive
}

// Preferences are the persisted delivery settings of a user.
type Preferences struct {
	UserID    int64     `json:"user_id"`
	Topics    []string  `json:"topics"`
	Frequency Frequency `json:"frequency"`
	SendTime  string    `json:"send_time"`
	Timezone  string    `json:"timezone"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Normalize fills defaults and validates the record.
func (p *Preferences) Normalize() error {
	if p.Frequency == "" {
		p.Frequency = FrequencyWeekly
	}
	if !p.Frequency.IsValid() {
		return ErrInvalidFrequency
	}
	if p.SendTime == "" {
		p.SendTime = DefaultSendTime
	}
	if _, err := time.Parse("15:04", p.SendTime); err != nil {
		return ErrInvalidSendTime
	}
	if p.Timezone == "" {
		p.Timezone = DefaultTimezone
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return ErrInvalidTimezone
	}
	if p.Topics == nil {
		p.Topics = []string{}
	}
	return nil
}

// Subscriber joins a user with an active subscription and its preferences.
type Subscriber struct {
	User         User         `json:"user"`
	Preferences  Preferences  `json:"preferences"`
	Subscription Subscription `json:"subscription"`
}

// EncodeTopics serializes topics as a JSON array, preserving order.
func EncodeTopics(topics []string) (string, error) {
	if topics == nil {
		topics = []string{}
	}
	b, err := json.Marshal(topics)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeTopics parses a JSON array written by EncodeTopics. Empty input yields no topics.
func DecodeTopics(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var topics []string
	if err := json.Unmarshal([]byte(raw), &topics); err != nil {
		return nil, ErrInvalidTopicsJSON
	}
	if topics == nil {
		topics = []string{}
	}
	return topics, nil
}
