package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/store"
)

// Sender sends one WhatsApp message and returns the transport message id.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) (string, error)
}

// Deliverer sends queued digests and records them as syntheses.
type Deliverer struct {
	sender    Sender
	syntheses store.SynthesisRepo
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(sender Sender, syntheses store.SynthesisRepo) *Deliverer {
	return &Deliverer{sender: sender, syntheses: syntheses}
}

// Send is a store.OutboxSendFunc.
func (d *Deliverer) Send(ctx context.Context, msg store.OutboxMessage) error {
	if msg.Kind != Kind {
		return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
	}
	var p Payload
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
		return fmt.Errorf("decode digest payload: %w", err)
	}
	messageID, err := d.sender.SendMessage(ctx, msg.Phone, p.Content)
	if err != nil {
		return err
	}
	// The message is out; a failed insert must not trigger a resend.
	if _, err := d.syntheses.CreateSynthesis(ctx, models.Synthesis{
		UserID:       p.UserID,
		Topics:       p.Topics,
		Content:      p.Content,
		ArticleCount: p.ArticleCount,
		MessageID:    messageID,
		SentAt:       time.Now().UTC(),
	}); err != nil {
		slog.Error("Deliverer.Send: failed to record synthesis", "user_id", p.UserID, "message_id", messageID, "error", err)
	}
	slog.Info("Deliverer.Send: digest delivered", "user_id", p.UserID, "message_id", messageID)
	return nil
}
