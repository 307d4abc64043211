package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// eventSource is the part of whatsapp.Client that delivers whatsmeow events.
type eventSource interface {
	AddEventHandler(handler func(evt interface{}))
}

// WhatsAppService implements Service using the whatsmeow-based client.
type WhatsAppService struct {
	channels
	client whatsapp.Sender
	events eventSource
}

// Compile-time check that WhatsAppService implements Service.
var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService wraps a sender. Event handling is enabled when the
// sender is a full *whatsapp.Client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{channels: newChannels(), client: client}
	if src, ok := client.(eventSource); ok {
		s.events = src
	}
	return s
}

func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.events == nil {
		slog.Debug("WhatsAppService.Start: no event source, skipping event handling")
		return nil
	}
	s.events.AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the channels.
func (s *WhatsAppService) Stop() error {
	s.stop()
	slog.Info("WhatsAppService.Stop: channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if s.isStopped() {
		return "", ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	id, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "to", canonicalTo, "error", err)
		return "", err
	}
	s.emitReceipt(models.Receipt{MessageID: id, To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return id, nil
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Receipt:
		s.handleMessageReceipt(v)
	}
}

// handleIncomingMessage forwards direct text messages; groups, own messages
// and media are ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	text, ok := whatsapp.MessageText(evt.Message)
	if !ok {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.User)
		return
	}
	s.emitInbound(models.InboundMessage{
		MessageID:   string(evt.Info.ID),
		From:        whatsapp.JIDUserToPhone(evt.Info.Sender.User),
		Body:        text,
		ProfileName: evt.Info.PushName,
		ReceivedAt:  evt.Info.Timestamp,
	})
}

// handleMessageReceipt forwards delivery and read receipts.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	to := whatsapp.JIDUserToPhone(evt.MessageSource.Sender.User)
	for _, id := range evt.MessageIDs {
		s.emitReceipt(models.Receipt{MessageID: string(id), To: to, Status: status, Time: evt.Timestamp.Unix()})
	}
}
