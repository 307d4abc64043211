package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/Hartzala/whatsapp-news-assistant/internal/conversation"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the shared backend used when several instances run.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: open failed", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: migrations failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

// Contexts returns the conversation backend stored in this database.
func (s *PostgresStore) Contexts() conversation.Backend {
	return &sqlContexts{db: s.db, dialect: "postgres"}
}

func (s *PostgresStore) GetOrCreateUserByPhone(ctx context.Context, phone string) (models.User, error) {
	now := utcNow()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (phone_number, created_at, updated_at) VALUES ($1, $2, $3) ON CONFLICT (phone_number) DO NOTHING`,
		phone, now, now,
	)
	if err != nil {
		return models.User{}, fmt.Errorf("register user %s: %w", phone, err)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone))
	if err != nil {
		return models.User{}, fmt.Errorf("load user %s: %w", phone, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user %d: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) GetSubscriptionStatus(ctx context.Context, userID int64) (*models.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription of user %d: %w", userID, err)
	}
	return &sub, nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	if !sub.Status.IsValid() {
		return fmt.Errorf("invalid subscription status %q", sub.Status)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, status, renewal_date, cancelled_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET status = EXCLUDED.status, renewal_date = EXCLUDED.renewal_date,
		 cancelled_at = EXCLUDED.cancelled_at, updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.Status, nilIfZeroTime(sub.RenewalDate), nilIfZeroTime(sub.CancelledAt), utcNow(),
	)
	if err != nil {
		return fmt.Errorf("save subscription of user %d: %w", sub.UserID, err)
	}
	return nil
}

func (s *PostgresStore) SavePreferences(ctx context.Context, prefs models.Preferences) error {
	if err := prefs.Normalize(); err != nil {
		return err
	}
	topics, err := models.EncodeTopics(prefs.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, topics, frequency, send_time, timezone, is_active, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET topics = EXCLUDED.topics, frequency = EXCLUDED.frequency,
		 send_time = EXCLUDED.send_time, timezone = EXCLUDED.timezone, is_active = EXCLUDED.is_active,
		 updated_at = EXCLUDED.updated_at`,
		prefs.UserID, topics, prefs.Frequency, prefs.SendTime, prefs.Timezone, prefs.IsActive, utcNow(),
	)
	if err != nil {
		return fmt.Errorf("save preferences of user %d: %w", prefs.UserID, err)
	}
	slog.Debug("PostgresStore.SavePreferences", "user_id", prefs.UserID, "topics", len(prefs.Topics))
	return nil
}

func (s *PostgresStore) GetPreferences(ctx context.Context, userID int64) (models.Preferences, error) {
	p, err := scanPreferences(s.db.QueryRowContext(ctx,
		`SELECT `+preferencesColumns+` FROM user_preferences WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Preferences{}, ErrNotFound
	}
	if err != nil {
		return models.Preferences{}, fmt.Errorf("load preferences of user %d: %w", userID, err)
	}
	return p, nil
}

func (s *PostgresStore) CreateSynthesis(ctx context.Context, syn models.Synthesis) (int64, error) {
	topics, err := models.EncodeTopics(syn.Topics)
	if err != nil {
		return 0, fmt.Errorf("encode topics: %w", err)
	}
	if syn.SentAt.IsZero() {
		syn.SentAt = utcNow()
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO syntheses (user_id, topics, content, article_count, message_id, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		syn.UserID, topics, syn.Content, syn.ArticleCount, nilIfEmpty(syn.MessageID), syn.SentAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record synthesis for user %d: %w", syn.UserID, err)
	}
	return id, nil
}

func (s *PostgresStore) ListSyntheses(ctx context.Context, userID int64, limit int) ([]models.Synthesis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+synthesisColumns+` FROM syntheses WHERE user_id = $1 ORDER BY sent_at DESC, id DESC LIMIT $2`,
		userID, defaultLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list syntheses of user %d: %w", userID, err)
	}
	defer rows.Close()
	out := []models.Synthesis{}
	for rows.Next() {
		syn, err := scanSynthesis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, syn)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListActiveSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+`
		 FROM users u
		 JOIN subscriptions s ON s.user_id = u.id
		 JOIN user_preferences p ON p.user_id = u.id
		 WHERE s.status = $1 ORDER BY u.id`,
		models.SubscriptionActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	defer rows.Close()
	var out []models.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (message_id, recipient, status, error_code, time) VALUES ($1, $2, $3, $4, $5)`,
		nilIfEmpty(r.MessageID), r.To, r.Status, nilIfEmpty(r.ErrorCode), r.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *PostgresStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, recipient, status, error_code, time FROM receipts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("PostgresStore.Close: failed to close database", "error", err)
	}
	return err
}
