package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/twiliowhatsapp"
)

// TwilioService implements Service over the Twilio REST API. Inbound messages
// arrive through the webhook served by the HTTP API.
type TwilioService struct {
	channels
	client twiliowhatsapp.Sender // real Twilio client or MockClient
}

// Compile-time check that TwilioService implements Service.
var _ Service = (*TwilioService)(nil)

// NewTwilioService wraps a Twilio sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{channels: newChannels(), client: client}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the channels. Later sends fail with ErrServiceStopped.
func (s *TwilioService) Stop() error {
	s.stop()
	return nil
}

// SendMessage sends a message via Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if s.isStopped() {
		return "", ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	sid, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		slog.Error("TwilioService.SendMessage: send failed", "to", canonicalTo, "error", err)
		return "", err
	}
	s.emitReceipt(models.Receipt{MessageID: sid, To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return sid, nil
}
