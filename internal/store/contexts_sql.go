package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/conversation"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// sqlContexts keeps conversation contexts in the conversation_contexts table as
// JSON documents. The version column carries the compare-and-swap token.
type sqlContexts struct {
	db      *sql.DB
	dialect string
}

// Compile-time check that sqlContexts implements conversation.Backend.
var _ conversation.Backend = (*sqlContexts)(nil)

// rebind rewrites ? placeholders as $n for Postgres.
func (b *sqlContexts) rebind(query string) string {
	if b.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *sqlContexts) Load(ctx context.Context, phone string) (models.ConversationContext, bool, error) {
	var data string
	var version int64
	err := b.db.QueryRowContext(ctx,
		b.rebind(`SELECT data, version FROM conversation_contexts WHERE phone_number = ?`), phone,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConversationContext{}, false, nil
	}
	if err != nil {
		return models.ConversationContext{}, false, fmt.Errorf("load context %s: %w", phone, err)
	}
	var c models.ConversationContext
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return models.ConversationContext{}, false, fmt.Errorf("decode context %s: %w", phone, err)
	}
	c.Version = version
	return c, true, nil
}

func (b *sqlContexts) Save(ctx context.Context, c models.ConversationContext, expectedVersion int64) (models.ConversationContext, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ConversationContext{}, fmt.Errorf("save context %s: %w", c.PhoneNumber, err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		b.rebind(`SELECT version FROM conversation_contexts WHERE phone_number = ?`), c.PhoneNumber,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.ConversationContext{}, fmt.Errorf("save context %s: %w", c.PhoneNumber, err)
	}
	exists := err == nil
	if expectedVersion != conversation.AnyVersion && expectedVersion != current {
		return models.ConversationContext{}, conversation.ErrVersionConflict
	}

	saved := c.Clone()
	saved.Version = current + 1
	data, err := json.Marshal(saved)
	if err != nil {
		return models.ConversationContext{}, fmt.Errorf("encode context %s: %w", c.PhoneNumber, err)
	}

	// The WHERE version / ON CONFLICT guards catch writers racing between the
	// SELECT above and this statement.
	var res sql.Result
	if exists {
		res, err = tx.ExecContext(ctx,
			b.rebind(`UPDATE conversation_contexts SET data = ?, version = ?, last_message_at = ? WHERE phone_number = ? AND version = ?`),
			string(data), saved.Version, saved.LastMessageAt.UTC(), c.PhoneNumber, current,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			b.rebind(`INSERT INTO conversation_contexts (phone_number, data, version, last_message_at) VALUES (?, ?, ?, ?) ON CONFLICT (phone_number) DO NOTHING`),
			c.PhoneNumber, string(data), saved.Version, saved.LastMessageAt.UTC(),
		)
	}
	if err != nil {
		return models.ConversationContext{}, fmt.Errorf("save context %s: %w", c.PhoneNumber, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return models.ConversationContext{}, fmt.Errorf("save context %s: %w", c.PhoneNumber, err)
	} else if n == 0 {
		return models.ConversationContext{}, conversation.ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return models.ConversationContext{}, fmt.Errorf("save context %s: %w", c.PhoneNumber, err)
	}
	return saved, nil
}

func (b *sqlContexts) Delete(ctx context.Context, phone string) error {
	_, err := b.db.ExecContext(ctx, b.rebind(`DELETE FROM conversation_contexts WHERE phone_number = ?`), phone)
	if err != nil {
		return fmt.Errorf("delete context %s: %w", phone, err)
	}
	return nil
}

func (b *sqlContexts) ScanExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		b.rebind(`SELECT phone_number FROM conversation_contexts WHERE last_message_at < ? ORDER BY phone_number`),
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("scan expired contexts: %w", err)
	}
	defer rows.Close()
	var phones []string
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, fmt.Errorf("scan expired contexts: %w", err)
		}
		phones = append(phones, phone)
	}
	return phones, rows.Err()
}
