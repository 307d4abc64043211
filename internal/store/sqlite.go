package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/Hartzala/whatsapp-news-assistant/internal/conversation"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the single-file backend used by default.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: open failed", "error", err)
		return nil, err
	}
	// One writer at a time; concurrent writers would only get SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: migrations failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: migrations applied", "dir", dir)
	return &SQLiteStore{db: db}, nil
}

// Contexts returns the conversation backend stored in this database.
func (s *SQLiteStore) Contexts() conversation.Backend {
	return &sqlContexts{db: s.db, dialect: "sqlite3"}
}

func (s *SQLiteStore) GetOrCreateUserByPhone(ctx context.Context, phone string) (models.User, error) {
	now := utcNow()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (phone_number, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(phone_number) DO NOTHING`,
		phone, now, now,
	)
	if err != nil {
		return models.User{}, fmt.Errorf("register user %s: %w", phone, err)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = ?`, phone))
	if err != nil {
		return models.User{}, fmt.Errorf("load user %s: %w", phone, err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user %d: %w", id, err)
	}
	return u, nil
}

func (s *SQLiteStore) GetSubscriptionStatus(ctx context.Context, userID int64) (*models.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription of user %d: %w", userID, err)
	}
	return &sub, nil
}

func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	if !sub.Status.IsValid() {
		return fmt.Errorf("invalid subscription status %q", sub.Status)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, status, renewal_date, cancelled_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET status = excluded.status, renewal_date = excluded.renewal_date,
		 cancelled_at = excluded.cancelled_at, updated_at = excluded.updated_at`,
		sub.UserID, sub.Status, nilIfZeroTime(sub.RenewalDate), nilIfZeroTime(sub.CancelledAt), utcNow(),
	)
	if err != nil {
		return fmt.Errorf("save subscription of user %d: %w", sub.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) SavePreferences(ctx context.Context, prefs models.Preferences) error {
	if err := prefs.Normalize(); err != nil {
		return err
	}
	topics, err := models.EncodeTopics(prefs.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, topics, frequency, send_time, timezone, is_active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET topics = excluded.topics, frequency = excluded.frequency,
		 send_time = excluded.send_time, timezone = excluded.timezone, is_active = excluded.is_active,
		 updated_at = excluded.updated_at`,
		prefs.UserID, topics, prefs.Frequency, prefs.SendTime, prefs.Timezone, prefs.IsActive, utcNow(),
	)
	if err != nil {
		return fmt.Errorf("save preferences of user %d: %w", prefs.UserID, err)
	}
	slog.Debug("SQLiteStore.SavePreferences", "user_id", prefs.UserID, "topics", len(prefs.Topics))
	return nil
}

func (s *SQLiteStore) GetPreferences(ctx context.Context, userID int64) (models.Preferences, error) {
	p, err := scanPreferences(s.db.QueryRowContext(ctx,
		`SELECT `+preferencesColumns+` FROM user_preferences WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Preferences{}, ErrNotFound
	}
	if err != nil {
		return models.Preferences{}, fmt.Errorf("load preferences of user %d: %w", userID, err)
	}
	return p, nil
}

func (s *SQLiteStore) CreateSynthesis(ctx context.Context, syn models.Synthesis) (int64, error) {
	topics, err := models.EncodeTopics(syn.Topics)
	if err != nil {
		return 0, fmt.Errorf("encode topics: %w", err)
	}
	if syn.SentAt.IsZero() {
		syn.SentAt = utcNow()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO syntheses (user_id, topics, content, article_count, message_id, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
		syn.UserID, topics, syn.Content, syn.ArticleCount, nilIfEmpty(syn.MessageID), syn.SentAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("record synthesis for user %d: %w", syn.UserID, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListSyntheses(ctx context.Context, userID int64, limit int) ([]models.Synthesis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+synthesisColumns+` FROM syntheses WHERE user_id = ? ORDER BY sent_at DESC, id DESC LIMIT ?`,
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

func (s *SQLiteStore) ListActiveSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+`
		 FROM users u
		 JOIN subscriptions s ON s.user_id = u.id
		 JOIN user_preferences p ON p.user_id = u.id
		 WHERE s.status = ? ORDER BY u.id`,
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

func (s *SQLiteStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (message_id, recipient, status, error_code, time) VALUES (?, ?, ?, ?, ?)`,
		nilIfEmpty(r.MessageID), r.To, r.Status, nilIfEmpty(r.ErrorCode), r.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *SQLiteStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, recipient, status, error_code, time FROM receipts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("SQLiteStore.Close: failed to close database", "error", err)
	}
	return err
}
