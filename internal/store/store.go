// Package store provides persistence for accounts, subscriptions, delivery
// preferences, synthesis history, conversation contexts, inbound deduplication
// and the outbound message outbox.
//
// SQLiteStore and PostgresStore share the same repositories; InMemoryStore
// backs tests and DSN-less runs.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Opts holds configuration options for the SQL stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for the SQL stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for Postgres URLs or key=value connection
// strings and "sqlite3" for anything else (a file path).
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// UserRepo manages accounts.
type UserRepo interface {
	// GetOrCreateUserByPhone returns the account bound to phone, registering it on first contact.
	GetOrCreateUserByPhone(ctx context.Context, phone string) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
}

// SubscriptionRepo manages premium subscriptions.
type SubscriptionRepo interface {
	// GetSubscriptionStatus returns nil without error when the user never subscribed.
	GetSubscriptionStatus(ctx context.Context, userID int64) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub models.Subscription) error
}

// PreferencesRepo manages delivery preferences.
type PreferencesRepo interface {
	SavePreferences(ctx context.Context, prefs models.Preferences) error
	GetPreferences(ctx context.Context, userID int64) (models.Preferences, error)
}

// SynthesisRepo records delivered digests.
type SynthesisRepo interface {
	CreateSynthesis(ctx context.Context, s models.Synthesis) (int64, error)
	// ListSyntheses returns the latest syntheses of a user, newest first.
	ListSyntheses(ctx context.Context, userID int64, limit int) ([]models.Synthesis, error)
}

// SubscriberRepo lists premium users that have delivery preferences.
type SubscriberRepo interface {
	ListActiveSubscribers(ctx context.Context) ([]models.Subscriber, error)
}

// ReceiptRepo records transport delivery receipts.
type ReceiptRepo interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
	GetReceipts(ctx context.Context) ([]models.Receipt, error)
}

// Store is the full set of repositories every backend implements.
type Store interface {
	UserRepo
	SubscriptionRepo
	PreferencesRepo
	SynthesisRepo
	SubscriberRepo
	ReceiptRepo
	DedupRepo
	OutboxRepo
	Close() error
}

// Compile-time checks that every backend implements Store.
var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Open picks the SQL backend matching the DSN.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
