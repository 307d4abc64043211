package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/twiliowhatsapp"
)

// Pre-marshaled fallback responses to avoid runtime encoding failures
var (
	fallbackErrorResponse []byte
	emptyTwiML            string
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
	emptyTwiML, err = twiliowhatsapp.MessageResponse("")
	if err != nil {
		panic(fmt.Sprintf("Failed to render empty TwiML at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding error can still change the status code
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeTwiMLResponse answers a Twilio webhook. Twilio retries anything but a
// 2xx, so the status is always 200 and failures degrade to an empty document.
func writeTwiMLResponse(w http.ResponseWriter, body string) {
	doc := emptyTwiML
	if body != "" {
		rendered, err := twiliowhatsapp.MessageResponse(body)
		if err != nil {
			slog.Error("Server.writeTwiMLResponse: failed to render TwiML", "error", err)
		} else {
			doc = rendered
		}
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		slog.Error("Server.writeTwiMLResponse: failed to write TwiML", "error", err)
	}
}
