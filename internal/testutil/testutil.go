// Package testutil provides fixtures and assertions shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/store"
)

// AccountStore is what SeedSubscriber needs from a store.
type AccountStore interface {
	store.UserRepo
	store.SubscriptionRepo
	store.PreferencesRepo
}

// SeedSubscriber registers phone with a subscription in status and saves prefs.
func SeedSubscriber(t *testing.T, st AccountStore, phone string, status models.SubscriptionStatus, prefs models.Preferences) models.User {
	t.Helper()
	ctx := context.Background()
	u, err := st.GetOrCreateUserByPhone(ctx, phone)
	if err != nil {
		t.Fatalf("GetOrCreateUserByPhone(%s): %v", phone, err)
	}
	if err := st.UpsertSubscription(ctx, models.Subscription{UserID: u.ID, Status: status}); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	prefs.UserID = u.ID
	if err := st.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}
	return u
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeAPIResponse decodes the JSON envelope and checks its status field.
func DecodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status %q, got %q (message %q)", expectedStatus, response.Status, response.Message)
	}
	return response
}

// NewJSONRequest creates a request with a raw JSON body.
func NewJSONRequest(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals v or fails the test.
func MustMarshalJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return string(data)
}
