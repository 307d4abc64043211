package messaging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/store"
)

// InboundHandler runs one conversational turn.
type InboundHandler interface {
	HandleInboundMessage(ctx context.Context, phone, text string, userID *int64) models.InboundResult
}

// Dispatcher turns transport messages into engine turns: canonical phone,
// webhook deduplication, account auto-registration, then the engine.
type Dispatcher struct {
	svc      Service
	engine   InboundHandler
	dedup    store.DedupRepo
	users    store.UserRepo
	receipts store.ReceiptRepo
	workers  int
}

// DefaultDispatchWorkers bounds how many turns run at once.
const DefaultDispatchWorkers = 8

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDedup drops messages whose id was already recorded.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(d *Dispatcher) { d.dedup = repo }
}

// WithUsers registers an account on the first message of each phone number.
func WithUsers(repo store.UserRepo) DispatcherOption {
	return func(d *Dispatcher) { d.users = repo }
}

// WithReceiptStore persists the receipts emitted by the transport.
func WithReceiptStore(repo store.ReceiptRepo) DispatcherOption {
	return func(d *Dispatcher) { d.receipts = repo }
}

// WithWorkers sets how many messages are handled concurrently by Start.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) { d.workers = n }
}

// NewDispatcher creates a dispatcher for svc.
func NewDispatcher(svc Service, engine InboundHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{svc: svc, engine: engine, workers: DefaultDispatchWorkers}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process runs one inbound message through the engine. duplicate is true when
// the message id was already seen, in which case nothing else happens.
func (d *Dispatcher) Process(ctx context.Context, msg models.InboundMessage) (result models.InboundResult, duplicate bool, err error) {
	phone, err := d.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return models.InboundResult{}, false, err
	}
	// Media-only messages carry no text; the engine still answers them.
	text := strings.TrimSpace(msg.Body)
	if len(text) > models.MaxMessageBodyLength {
		return models.InboundResult{}, false, models.ErrMessageTooLong
	}

	if d.dedup != nil && msg.MessageID != "" {
		fresh, err := d.dedup.RecordInbound(ctx, msg.MessageID, phone)
		if err != nil {
			// Answering twice beats dropping a message.
			slog.Error("Dispatcher.Process: dedup failed, processing anyway", "message_id", msg.MessageID, "error", err)
		} else if !fresh {
			slog.Info("Dispatcher.Process: duplicate message dropped", "message_id", msg.MessageID, "phone", phone)
			return models.InboundResult{}, true, nil
		}
	}

	userID := msg.UserID
	if userID == nil && d.users != nil {
		u, err := d.users.GetOrCreateUserByPhone(ctx, phone)
		if err != nil {
			slog.Error("Dispatcher.Process: user registration failed", "phone", phone, "error", err)
		} else {
			userID = &u.ID
		}
	}

	slog.Debug("Dispatcher.Process: handling message", "phone", phone, "message_id", msg.MessageID, "length", len(text))
	result = d.engine.HandleInboundMessage(ctx, phone, text, userID)

	if d.dedup != nil && msg.MessageID != "" {
		if err := d.dedup.MarkProcessed(ctx, msg.MessageID); err != nil {
			slog.Warn("Dispatcher.Process: mark processed failed", "message_id", msg.MessageID, "error", err)
		}
	}
	return result, false, nil
}

// Reply processes msg and sends the engine response back through the transport.
func (d *Dispatcher) Reply(ctx context.Context, msg models.InboundMessage) error {
	result, duplicate, err := d.Process(ctx, msg)
	if err != nil || duplicate {
		return err
	}
	if _, err := d.svc.SendMessage(ctx, msg.From, result.Response); err != nil {
		return err
	}
	return nil
}

// Start consumes the transport channels until ctx is done or they close.
// Turns of one phone number are still serialized by the engine.
func (d *Dispatcher) Start(ctx context.Context) {
	workers := d.workers
	if workers <= 0 {
		workers = 1
	}
	slog.Info("Dispatcher.Start: processing inbound messages", "workers", workers)
	sem := make(chan struct{}, workers)
	go func() {
		defer slog.Info("Dispatcher stopped processing inbound messages")
		for {
			select {
			case msg, ok := <-d.svc.Inbound():
				if !ok {
					return
				}
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				go func() {
					defer func() { <-sem }()
					if err := d.Reply(ctx, msg); err != nil {
						slog.Error("Dispatcher: failed to answer message", "from", msg.From, "error", err)
					}
				}()
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		for {
			select {
			case r, ok := <-d.svc.Receipts():
				if !ok {
					return
				}
				d.recordReceipt(ctx, r)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *Dispatcher) recordReceipt(ctx context.Context, r models.Receipt) {
	if d.receipts == nil {
		return
	}
	if err := d.receipts.AddReceipt(ctx, r); err != nil {
		slog.Warn("Dispatcher.recordReceipt: failed", "to", r.To, "error", err)
	}
}
