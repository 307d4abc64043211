package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/twiliowhatsapp"
	"github.com/Hartzala/whatsapp-news-assistant/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"whatsapp:+33612345678", "+33612345678", false},
		{"+33 6 12 34 56 78", "+33612345678", false},
		{"33612345678", "+33612345678", false},
		{"", "", true},
		{"whatsapp:", "", true},
		{"+123", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	id, err := svc.SendMessage(context.Background(), "whatsapp:+33612345678", "Bonjour")
	if err != nil || id == "" {
		t.Fatalf("SendMessage = %q, %v", id, err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].To != "+33612345678" {
		t.Errorf("sent = %+v", sent)
	}
	select {
	case r := <-svc.Receipts():
		if r.To != "+33612345678" || r.Status != models.MessageStatusSent || r.MessageID != id {
			t.Errorf("receipt = %+v", r)
		}
	default:
		t.Fatal("expected a sent receipt")
	}

	if _, err := svc.SendMessage(context.Background(), "12", "x"); err == nil {
		t.Error("expected a validation error")
	}
	mock.Err = errors.New("twilio down")
	if _, err := svc.SendMessage(context.Background(), "+33612345678", "x"); err == nil {
		t.Error("expected the transport error")
	}
}

func TestServiceStop(t *testing.T) {
	for name, svc := range map[string]Service{
		"twilio":   NewTwilioService(twiliowhatsapp.NewMockClient()),
		"whatsapp": NewWhatsAppService(whatsapp.NewMockClient()),
	} {
		t.Run(name, func(t *testing.T) {
			if err := svc.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if err := svc.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if err := svc.Stop(); err != nil {
				t.Fatalf("second Stop: %v", err)
			}
			if _, ok := <-svc.Receipts(); ok {
				t.Error("receipts channel still open")
			}
			if _, ok := <-svc.Inbound(); ok {
				t.Error("inbound channel still open")
			}
			if _, err := svc.SendMessage(context.Background(), "+33612345678", "x"); !errors.Is(err, ErrServiceStopped) {
				t.Errorf("SendMessage after Stop = %v, want ErrServiceStopped", err)
			}
		})
	}
}

func TestWhatsAppService_Events(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	text := "Quelles sont les nouvelles ?"
	sender := types.NewJID("33612345678", types.DefaultUserServer)
	now := time.Now()

	svc.handleEvent(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: sender},
			ID:            "MSG1",
			PushName:      "Marie",
			Timestamp:     now,
		},
		Message: &waE2E.Message{Conversation: &text},
	})
	// Own messages and media are ignored.
	svc.handleEvent(&events.Message{
		Info:    types.MessageInfo{MessageSource: types.MessageSource{Sender: sender, IsFromMe: true}, ID: "MSG2"},
		Message: &waE2E.Message{Conversation: &text},
	})
	svc.handleEvent(&events.Message{
		Info:    types.MessageInfo{MessageSource: types.MessageSource{Sender: sender}, ID: "MSG3"},
		Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}},
	})

	select {
	case m := <-svc.Inbound():
		if m.MessageID != "MSG1" || m.From != "+33612345678" || m.Body != text || m.ProfileName != "Marie" {
			t.Errorf("inbound = %+v", m)
		}
	default:
		t.Fatal("expected an inbound message")
	}
	select {
	case m := <-svc.Inbound():
		t.Errorf("unexpected inbound message %+v", m)
	default:
	}

	svc.handleEvent(&events.Receipt{
		MessageSource: types.MessageSource{Sender: sender},
		MessageIDs:    []types.MessageID{"OUT1", "OUT2"},
		Timestamp:     now,
		Type:          events.ReceiptTypeRead,
	})
	for _, want := range []string{"OUT1", "OUT2"} {
		select {
		case r := <-svc.Receipts():
			if r.MessageID != want || r.Status != models.MessageStatusRead || r.To != "+33612345678" {
				t.Errorf("receipt = %+v", r)
			}
		default:
			t.Fatalf("missing receipt for %s", want)
		}
	}
}
