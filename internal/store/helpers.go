package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

const outboxColumns = `id, phone, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZeroTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// scanOutboxMessage scans an OutboxMessage selected with outboxColumns.
func scanOutboxMessage(rows rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.Phone, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	m.NextAttemptAt = timePtr(nextAttemptAt)
	m.LockedAt = timePtr(lockedAt)
	return m, nil
}

const userColumns = `id, phone_number, name, email, created_at, updated_at`

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var name, email sql.NullString
	if err := row.Scan(&u.ID, &u.PhoneNumber, &name, &email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return u, err
	}
	u.Name = name.String
	u.Email = email.String
	return u, nil
}

const subscriptionColumns = `user_id, status, renewal_date, cancelled_at, updated_at`

func scanSubscription(row rowScanner) (models.Subscription, error) {
	var sub models.Subscription
	var renewal, cancelled sql.NullTime
	if err := row.Scan(&sub.UserID, &sub.Status, &renewal, &cancelled, &sub.UpdatedAt); err != nil {
		return sub, err
	}
	sub.RenewalDate = timePtr(renewal)
	sub.CancelledAt = timePtr(cancelled)
	return sub, nil
}

const preferencesColumns = `user_id, topics, frequency, send_time, timezone, is_active, updated_at`

func scanPreferences(row rowScanner) (models.Preferences, error) {
	var p models.Preferences
	var topics string
	if err := row.Scan(&p.UserID, &topics, &p.Frequency, &p.SendTime, &p.Timezone, &p.IsActive, &p.UpdatedAt); err != nil {
		return p, err
	}
	decoded, err := models.DecodeTopics(topics)
	if err != nil {
		return p, fmt.Errorf("preferences of user %d: %w", p.UserID, err)
	}
	p.Topics = decoded
	return p, nil
}

const synthesisColumns = `id, user_id, topics, content, article_count, message_id, sent_at`

func scanSynthesis(row rowScanner) (models.Synthesis, error) {
	var s models.Synthesis
	var topics string
	var messageID sql.NullString
	if err := row.Scan(&s.ID, &s.UserID, &topics, &s.Content, &s.ArticleCount, &messageID, &s.SentAt); err != nil {
		return s, err
	}
	decoded, err := models.DecodeTopics(topics)
	if err != nil {
		return s, fmt.Errorf("synthesis %d: %w", s.ID, err)
	}
	s.Topics = decoded
	s.MessageID = messageID.String
	return s, nil
}

// subscriberColumns joins users, subscriptions and user_preferences aliased u, s, p.
const subscriberColumns = `u.id, u.phone_number, u.name, u.email, u.created_at, u.updated_at,
	s.user_id, s.status, s.renewal_date, s.cancelled_at, s.updated_at,
	p.user_id, p.topics, p.frequency, p.send_time, p.timezone, p.is_active, p.updated_at`

func scanSubscriber(rows *sql.Rows) (models.Subscriber, error) {
	var out models.Subscriber
	var name, email sql.NullString
	var renewal, cancelled sql.NullTime
	var topics string
	err := rows.Scan(
		&out.User.ID, &out.User.PhoneNumber, &name, &email, &out.User.CreatedAt, &out.User.UpdatedAt,
		&out.Subscription.UserID, &out.Subscription.Status, &renewal, &cancelled, &out.Subscription.UpdatedAt,
		&out.Preferences.UserID, &topics, &out.Preferences.Frequency, &out.Preferences.SendTime,
		&out.Preferences.Timezone, &out.Preferences.IsActive, &out.Preferences.UpdatedAt,
	)
	if err != nil {
		return out, fmt.Errorf("scan subscriber failed: %w", err)
	}
	out.User.Name = name.String
	out.User.Email = email.String
	out.Subscription.RenewalDate = timePtr(renewal)
	out.Subscription.CancelledAt = timePtr(cancelled)
	decoded, err := models.DecodeTopics(topics)
	if err != nil {
		return out, fmt.Errorf("subscriber %d: %w", out.User.ID, err)
	}
	out.Preferences.Topics = decoded
	return out, nil
}

func scanReceipts(rows *sql.Rows) ([]models.Receipt, error) {
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var messageID, errorCode sql.NullString
		if err := rows.Scan(&messageID, &r.To, &r.Status, &errorCode, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.MessageID = messageID.String
		r.ErrorCode = errorCode.String
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}
