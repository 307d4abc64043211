// Package intent classifies free-text WhatsApp messages into the closed intent taxonomy.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Hartzala/whatsapp-news-assistant/internal/genai"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// StructuredGenerator is the subset of genai.Client the classifier needs.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema genai.JSONSchema) (string, error)
}

// Compile-time check that genai.Client satisfies StructuredGenerator.
var _ StructuredGenerator = (*genai.Client)(nil)

// Classifier turns a message and its conversation context into an IntentResult.
type Classifier interface {
	Classify(ctx context.Context, message string, c models.ConversationContext) models.IntentResult
}

// LLMClassifier classifies with one structured completion per message. It never retries.
type LLMClassifier struct {
	gen StructuredGenerator
}

// Compile-time check that LLMClassifier implements Classifier.
var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier creates a classifier backed by gen.
func NewLLMClassifier(gen StructuredGenerator) *LLMClassifier {
	return &LLMClassifier{gen: gen}
}

// rawResult mirrors the JSON emitted by the model.
type rawResult struct {
	Intent        string   `json:"intent"`
	Confidence    *float64 `json:"confidence"`
	ExtractedData *struct {
		Topics    []string `json:"topics"`
		Frequency string   `json:"frequency"`
	} `json:"extractedData"`
}

// Classify never fails: transport errors and unusable output degrade to {other, 0}.
func (c *LLMClassifier) Classify(ctx context.Context, message string, conv models.ConversationContext) models.IntentResult {
	out, err := c.gen.GenerateStructured(ctx, SystemPrompt(conv), message, Schema())
	if err != nil {
		slog.Warn("LLMClassifier.Classify: generation failed, degrading", "phone", conv.PhoneNumber, "error", err)
		return models.DegradedIntent()
	}
	result, err := Parse(out)
	if err != nil {
		slog.Warn("LLMClassifier.Classify: unusable model output, degrading", "phone", conv.PhoneNumber, "error", err, "chars", len(out))
		return models.DegradedIntent()
	}
	slog.Debug("LLMClassifier.Classify: classified", "phone", conv.PhoneNumber, "intent", result.Intent, "confidence", result.Confidence)
	return result
}

// Parse decodes and normalizes a model answer.
// Unknown intents and a missing confidence are errors; confidence is clamped to [0,1].
func Parse(raw string) (models.IntentResult, error) {
	raw = stripCodeFence(raw)
	var r rawResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return models.IntentResult{}, fmt.Errorf("decode intent: %w", err)
	}
	in := models.Intent(strings.ToLower(strings.TrimSpace(r.Intent)))
	if !in.IsValid() {
		return models.IntentResult{}, fmt.Errorf("intent %q outside taxonomy", r.Intent)
	}
	if r.Confidence == nil {
		return models.IntentResult{}, fmt.Errorf("missing confidence")
	}

	result := models.IntentResult{Intent: in, Confidence: clamp(*r.Confidence)}
	if r.ExtractedData != nil {
		data := &models.ExtractedData{Topics: normalizeTopics(r.ExtractedData.Topics)}
		if f, ok := models.ParseFrequency(r.ExtractedData.Frequency); ok {
			data.Frequency = f
		}
		if len(data.Topics) > 0 || data.Frequency != "" {
			result.ExtractedData = data
		}
	}
	return result, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// normalizeTopics trims labels and drops empties and case-insensitive duplicates, keeping order.
func normalizeTopics(topics []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range topics {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
