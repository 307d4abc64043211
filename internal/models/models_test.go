package models

import (
	"reflect"
	"testing"
	"time"
)

func TestNewConversationContextDefaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewConversationContext("+33612345678", now)
	if c.State != StateGreeting {
		t.Errorf("expected state greeting, got %s", c.State)
	}
	if !c.IsFirstMessage {
		t.Error("expected IsFirstMessage to be true")
	}
	if len(c.SelectedTopics) != 0 || len(c.History) != 0 {
		t.Errorf("expected empty topics and history, got %v / %v", c.SelectedTopics, c.History)
	}
	if !c.CreatedAt.Equal(now) || !c.LastMessageAt.Equal(now) {
		t.Error("timestamps not initialized to now")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	id := int64(7)
	c := NewConversationContext("+1555", time.Now())
	c.UserID = &id
	c.SelectedTopics = []string{"Sport"}
	c.History = []Turn{{Role: RoleUser, Content: "hi"}}

	d := c.Clone()
	d.SelectedTopics[0] = "Finance"
	d.History[0].Content = "changed"
	*d.UserID = 9

	if c.SelectedTopics[0] != "Sport" || c.History[0].Content != "hi" || *c.UserID != 7 {
		t.Errorf("clone mutated original: %+v", c)
	}
}

func TestContextPatchApplyIsIdempotent(t *testing.T) {
	state := StateSelectingFrequency
	topics := []string{"Technologie", "Finance"}
	patch := ContextPatch{State: &state, SelectedTopics: &topics}

	once := NewConversationContext("+1555", time.Unix(0, 0))
	patch.Apply(&once)
	twice := once.Clone()
	patch.Apply(&twice)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("patch not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if once.State != StateSelectingFrequency || !reflect.DeepEqual(once.SelectedTopics, topics) {
		t.Errorf("patch not applied: %+v", once)
	}
	if !once.IsFirstMessage {
		t.Error("untouched field was modified")
	}
}

func TestMatchTopics(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"exact", []string{"Technologie", "Finance"}, []string{"Technologie", "Finance"}},
		{"partial lower", []string{"tech"}, []string{"Technologie"}},
		{"canonical inside label", []string{"le sport en général"}, []string{"Sport"}},
		{"accent", []string{"santé"}, []string{"Santé"}},
		{"unrelated", []string{"cuisine", "jardinage"}, []string{}},
		{"duplicates collapse", []string{"tech", "Technologie"}, []string{"Technologie"}},
		{"blank ignored", []string{"  ", "voyages"}, []string{"Voyages"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchTopics(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MatchTopics(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTopicsJSONPreservesOrder(t *testing.T) {
	topics := []string{"Voyages", "Santé", "Affaires"}
	raw, err := EncodeTopics(topics)
	if err != nil {
		t.Fatalf("EncodeTopics: %v", err)
	}
	back, err := DecodeTopics(raw)
	if err != nil {
		t.Fatalf("DecodeTopics: %v", err)
	}
	if !reflect.DeepEqual(back, topics) {
		t.Errorf("round trip mismatch: %v vs %v", back, topics)
	}
	if _, err := DecodeTopics("{not json"); err != ErrInvalidTopicsJSON {
		t.Errorf("expected ErrInvalidTopicsJSON, got %v", err)
	}
}

func TestParseFrequency(t *testing.T) {
	for in, want := range map[string]Frequency{"daily": FrequencyDaily, "Quotidien": FrequencyDaily, "HEBDOMADAIRE": FrequencyWeekly, "weekly": FrequencyWeekly} {
		got, ok := ParseFrequency(in)
		if !ok || got != want {
			t.Errorf("ParseFrequency(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseFrequency("monthly"); ok {
		t.Error("monthly should be rejected")
	}
}

func TestPreferencesNormalize(t *testing.T) {
	p := Preferences{UserID: 1, Topics: []string{"Sport"}}
	if err := p.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.Frequency != FrequencyWeekly || p.SendTime != DefaultSendTime || p.Timezone != DefaultTimezone {
		t.Errorf("defaults not applied: %+v", p)
	}
	bad := Preferences{SendTime: "8h"}
	if err := bad.Normalize(); err != ErrInvalidSendTime {
		t.Errorf("expected ErrInvalidSendTime, got %v", err)
	}
}

func TestSendRequestValidate(t *testing.T) {
	if err := (SendRequest{Body: "hi"}).Validate(); err != ErrEmptyRecipient {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if err := (SendRequest{From: "+1", Body: "hi"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
