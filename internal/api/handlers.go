package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/store"
	"github.com/Hartzala/whatsapp-news-assistant/internal/twiliowhatsapp"
)

// twilioWebhookHandler answers inbound WhatsApp messages relayed by Twilio.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	params, ok := s.verifiedForm(w, r)
	if !ok {
		return
	}
	msg := models.InboundMessage{
		MessageID:   params["MessageSid"],
		From:        twiliowhatsapp.StripPrefix(params["From"]),
		Body:        params["Body"],
		ProfileName: params["ProfileName"],
		ReceivedAt:  time.Now(),
	}
	slog.Debug("Server.twilioWebhookHandler: inbound message", "message_sid", msg.MessageID, "from", msg.From, "length", len(msg.Body))

	result, duplicate, err := s.dispatcher.Process(r.Context(), msg)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: message rejected", "message_sid", msg.MessageID, "error", err)
		writeTwiMLResponse(w, "")
		return
	}
	if duplicate {
		writeTwiMLResponse(w, "")
		return
	}
	slog.Info("Server.twilioWebhookHandler: replied", "message_sid", msg.MessageID, "outcome", result.Outcome, "success", result.Success)
	writeTwiMLResponse(w, result.Response)
}

func (s *Server) webhookReadyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("WhatsApp webhook ready", map[string]bool{
		"signature_validation": s.validator != nil,
	}))
}

// twilioStatusHandler records delivery status callbacks.
func (s *Server) twilioStatusHandler(w http.ResponseWriter, r *http.Request) {
	params, ok := s.verifiedForm(w, r)
	if !ok {
		return
	}
	receipt := models.Receipt{
		MessageID: params["MessageSid"],
		To:        twiliowhatsapp.StripPrefix(params["To"]),
		Status:    twilioStatus(params["MessageStatus"]),
		ErrorCode: params["ErrorCode"],
		Time:      time.Now().Unix(),
	}
	slog.Debug("Server.twilioStatusHandler: status callback", "message_sid", receipt.MessageID, "status", receipt.Status, "error_code", receipt.ErrorCode)
	if err := s.st.AddReceipt(r.Context(), receipt); err != nil {
		slog.Error("Server.twilioStatusHandler: failed to store receipt", "message_sid", receipt.MessageID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

// verifiedForm parses the form body and checks its Twilio signature. On
// failure it has already written the response.
func (s *Server) verifiedForm(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.verifiedForm: invalid form body", "path", r.URL.Path, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
		return nil, false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if s.validator == nil {
		return params, true
	}
	url := s.publicURL(r)
	if !s.validator.Validate(url, params, r.Header.Get("X-Twilio-Signature")) {
		slog.Warn("Server.verifiedForm: invalid Twilio signature", "url", url)
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
		return nil, false
	}
	return params, true
}

// publicURL rebuilds the URL Twilio signed.
func (s *Server) publicURL(r *http.Request) string {
	base := s.opts.PublicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + r.URL.RequestURI()
}

func twilioStatus(raw string) models.MessageStatus {
	switch raw {
	case "queued", "accepted", "sending":
		return models.MessageStatusQueued
	case "sent":
		return models.MessageStatusSent
	case "delivered":
		return models.MessageStatusDelivered
	case "read":
		return models.MessageStatusRead
	default:
		return models.MessageStatusFailed
	}
}

// messagesHandler runs a message through the engine without a transport.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messagesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	result, _, err := s.dispatcher.Process(r.Context(), models.InboundMessage{
		From:       req.From,
		Body:       req.Body,
		UserID:     req.UserID,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.st.GetReceipts(r.Context())
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to load receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load receipts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// synthesesHandler lists the digests sent to one user, newest first.
func (s *Server) synthesesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid user id"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
	}
	if _, err := s.st.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("User not found"))
			return
		}
		slog.Error("Server.synthesesHandler: failed to load user", "user_id", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load user"))
		return
	}
	syntheses, err := s.st.ListSyntheses(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Server.synthesesHandler: failed to list syntheses", "user_id", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list syntheses"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(syntheses))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}
