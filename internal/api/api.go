// Package api exposes the HTTP surface of the news assistant: the Twilio
// WhatsApp webhooks, an operator message endpoint and read-only views over the
// store.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/messaging"
	"github.com/Hartzala/whatsapp-news-assistant/internal/store"
	"github.com/Hartzala/whatsapp-news-assistant/internal/twiliowhatsapp"
)

// DefaultServerAddress is the listen address used when none is configured.
const DefaultServerAddress = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	PublicBaseURL string // scheme://host the webhooks are reachable at, used for signatures
	AuthToken     string // Twilio auth token; empty disables signature validation
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPublicBaseURL sets the externally visible base URL of the server.
func WithPublicBaseURL(u string) Option {
	return func(o *Opts) { o.PublicBaseURL = strings.TrimRight(u, "/") }
}

// WithSignatureValidation enables X-Twilio-Signature checks with authToken.
func WithSignatureValidation(authToken string) Option {
	return func(o *Opts) { o.AuthToken = authToken }
}

// Repository is the part of the store the HTTP layer reads and writes.
type Repository interface {
	store.UserRepo
	store.SynthesisRepo
	store.ReceiptRepo
}

// Server serves the HTTP endpoints.
type Server struct {
	dispatcher *messaging.Dispatcher
	st         Repository
	validator  *twiliowhatsapp.Validator
	opts       Opts
	httpServer *http.Server
}

// NewServer creates a server that feeds inbound messages to dispatcher.
func NewServer(dispatcher *messaging.Dispatcher, st Repository, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultServerAddress}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{dispatcher: dispatcher, st: st, opts: cfg}
	if cfg.AuthToken != "" {
		s.validator = twiliowhatsapp.NewValidator(cfg.AuthToken)
	}
	slog.Debug("Server configured", "addr", cfg.Addr, "public_base_url", cfg.PublicBaseURL, "signature_validation", s.validator != nil)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/twilio/whatsapp", s.twilioWebhookHandler)
	mux.HandleFunc("GET /webhooks/twilio/whatsapp", s.webhookReadyHandler)
	mux.HandleFunc("POST /webhooks/twilio/status", s.twilioStatusHandler)
	mux.HandleFunc("POST /messages", s.messagesHandler)
	mux.HandleFunc("GET /receipts", s.receiptsHandler)
	mux.HandleFunc("GET /users/{id}/syntheses", s.synthesesHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	return mux
}

// Start listens in the background. Errors other than a clean shutdown are
// reported on the returned channel.
func (s *Server) Start() <-chan error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
