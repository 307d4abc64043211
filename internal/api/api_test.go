package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Hartzala/whatsapp-news-assistant/internal/messaging"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/Hartzala/whatsapp-news-assistant/internal/store"
	"github.com/Hartzala/whatsapp-news-assistant/internal/testutil"
	"github.com/Hartzala/whatsapp-news-assistant/internal/twiliowhatsapp"
)

// mockEngine echoes every message and records the user it was called with.
type mockEngine struct {
	mu      sync.Mutex
	userIDs []*int64
}

func (m *mockEngine) HandleInboundMessage(ctx context.Context, phone, text string, userID *int64) models.InboundResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userIDs = append(m.userIDs, userID)
	return models.InboundResult{Success: true, Response: "Vous avez dit: " + text, Outcome: models.OutcomeHandled}
}

func (m *mockEngine) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userIDs)
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.InMemoryStore, *mockEngine) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := &mockEngine{}
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	d := messaging.NewDispatcher(svc, engine, messaging.WithDedup(st), messaging.WithUsers(st))
	return NewServer(d, st, opts...), st, engine
}

func TestMessagesHandler(t *testing.T) {
	server, st, engine := newTestServer(t)
	h := server.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, testutil.NewJSONRequest("POST", "/messages", `{"from":"+33612345678","body":"Bonjour"}`))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "messages success")
	resp := testutil.DecodeAPIResponse(t, rr, models.APIStatusOK)
	result, _ := resp.Result.(map[string]interface{})
	if result["response"] != "Vous avez dit: Bonjour" {
		t.Errorf("unexpected response %+v", resp)
	}
	u, _ := st.GetOrCreateUserByPhone(context.Background(), "+33612345678")
	if engine.userIDs[0] == nil || *engine.userIDs[0] != u.ID {
		t.Errorf("sender was not registered")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, testutil.NewJSONRequest("POST", "/messages", `{"from":"+33612345678","body":"Bonjour","user_id":42}`))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "messages with user id")
	if got := engine.userIDs[1]; got == nil || *got != 42 {
		t.Errorf("explicit user id not forwarded: %v", got)
	}

	for name, body := range map[string]string{
		"invalid json":    `{"from":`,
		"missing from":    `{"body":"Bonjour"}`,
		"missing body":    `{"from":"+33612345678"}`,
		"invalid phone":   `{"from":"abc","body":"Bonjour"}`,
		"whitespace body": `{"from":"+33612345678","body":"   "}`,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, testutil.NewJSONRequest("POST", "/messages", body))
		testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, name)
	}
	if engine.calls() != 2 {
		t.Errorf("engine called %d times, want 2", engine.calls())
	}
}

func TestSynthesesHandler(t *testing.T) {
	server, st, _ := newTestServer(t)
	h := server.Handler()
	ctx := context.Background()

	u, _ := st.GetOrCreateUserByPhone(ctx, "+33612345678")
	for _, content := range []string{"premier", "second"} {
		if _, err := st.CreateSynthesis(ctx, models.Synthesis{UserID: u.ID, Topics: []string{"Sport"}, Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/users/1/syntheses?limit=1", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "syntheses")
	items, _ := testutil.DecodeAPIResponse(t, rr, models.APIStatusOK).Result.([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 synthesis, got %d", len(items))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/users/99/syntheses", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown user")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/users/abc/syntheses", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid id")
}

func TestHealthAndReceipts(t *testing.T) {
	server, st, _ := newTestServer(t)
	h := server.Handler()
	_ = st.AddReceipt(context.Background(), models.Receipt{MessageID: "SM1", To: "+33612345678", Status: models.MessageStatusSent, Time: 1})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/receipts", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "receipts")
	if items, _ := testutil.DecodeAPIResponse(t, rr, models.APIStatusOK).Result.([]interface{}); len(items) != 1 {
		t.Errorf("expected 1 receipt, got %d", len(items))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("DELETE", "/healthz", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "wrong method")
}
