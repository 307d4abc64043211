// Package messaging abstracts WhatsApp transports behind Service and routes
// inbound messages to the dialogue engine.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// Constants for channel handling
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and inbound channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emitter waits on a full channel
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest number accepted as a recipient
	minPhoneDigits = 6
)

// ErrServiceStopped is returned by SendMessage after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a phone number and returns it in E.164 form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message and returns the transport message id.
	SendMessage(ctx context.Context, to string, body string) (string, error)

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Inbound returns a channel of user messages for push transports.
	// Webhook transports deliver through the HTTP API instead and never send on it.
	Inbound() <-chan models.InboundMessage
}

// CanonicalizePhone strips the whatsapp: prefix and every non-digit and returns
// "+<digits>".
func CanonicalizePhone(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", models.ErrEmptyRecipient
	}
	digits := phoneNumberRegex.ReplaceAllString(strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:"), "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", raw)
	}
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", digits, minPhoneDigits)
	}
	return "+" + digits, nil
}

// channels holds the event channels shared by both transports. Emitters hold
// the read lock while sending so Stop never closes a channel under them.
type channels struct {
	receipts chan models.Receipt
	inbound  chan models.InboundMessage
	mu       sync.RWMutex
	stopped  bool
}

func newChannels() channels {
	return channels{
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:  make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

func (c *channels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

func (c *channels) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.receipts)
	close(c.inbound)
}

func (c *channels) emitReceipt(r models.Receipt) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	select {
	case c.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging.emitReceipt: receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}

func (c *channels) emitInbound(m models.InboundMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		slog.Warn("messaging.emitInbound: service stopped, dropping message", "from", m.From)
		return
	}
	select {
	case c.inbound <- m:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging.emitInbound: inbound channel blocked, dropping message", "from", m.From)
	}
}

func (c *channels) Receipts() <-chan models.Receipt {
	return c.receipts
}

func (c *channels) Inbound() <-chan models.InboundMessage {
	return c.inbound
}
