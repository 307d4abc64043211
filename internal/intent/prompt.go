package intent

import (
	"fmt"
	"strings"

	"github.com/Hartzala/whatsapp-news-assistant/internal/genai"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// SchemaName is the name of the structured output format sent to the model.
const SchemaName = "intent_analysis"

// frequencyNone is the schema's placeholder for "no frequency mentioned".
const frequencyNone = "none"

const systemPromptTemplate = `You are an AI assistant that analyzes user messages to understand their intent in a WhatsApp conversation about news subscriptions. Users write mostly in French.

Current conversation state: %s
Selected topics so far: %s
Selected frequency: %s
Is first message: %t

Classify the message into exactly one intent:
- "greeting": hello, bonjour, salut, with nothing else asked
- "set_topics": the user names news themes they want ("tech et finance", "sport, politique", "je veux la santé")
- "set_frequency": the user chooses a cadence ("tous les jours", "quotidien", "une fois par semaine", "hebdo")
- "confirm": the user agrees or wants to pay ("oui", "ok c'est bon", "payer", "je valide")
- "help": the user asks how the service works ("comment ça marche", "aide", "menu", "?")
- "ask_question": the user asks about current events ("quoi de neuf en technologie ?", "résume-moi l'actualité sportive")
- "subscribe_premium": the user asks about the paid offer ("abonnement", "premium", "combien ça coûte")
- "other": anything else

Disambiguation rules:
- A bare list of themes ("tech and finance") is "set_topics", not "ask_question".
- A question about the news on a theme is "ask_question" even if it names a theme.
- "comment ça marche" and similar are "help".
- While confirming the setup, a short approval is "confirm".

Extraction:
- topics: the themes mentioned, as written or translated to French (Technologie, Finance, Sport, Politique, Santé, Environnement, Divertissement, Science, Affaires, Voyages). Empty array when none.
- frequency: "daily" or "weekly" when a cadence is mentioned, otherwise "none".

confidence is a number between 0 and 1.`

// SystemPrompt renders the classifier instruction for the given context.
func SystemPrompt(c models.ConversationContext) string {
	topics := "none"
	if len(c.SelectedTopics) > 0 {
		topics = strings.Join(c.SelectedTopics, ", ")
	}
	frequency := "not set"
	if c.SelectedFrequency != "" {
		frequency = string(c.SelectedFrequency)
	}
	return fmt.Sprintf(systemPromptTemplate, c.State, topics, frequency, c.IsFirstMessage)
}

// Schema returns the strict JSON schema for the classifier answer.
// Strict mode requires every property to be listed as required.
func Schema() genai.JSONSchema {
	intents := make([]string, 0, len(models.AllIntents))
	for _, i := range models.AllIntents {
		intents = append(intents, string(i))
	}
	return genai.JSONSchema{
		Name:        SchemaName,
		Description: "Intent of a WhatsApp message sent to a news subscription assistant",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"intent": map[string]any{
					"type": "string",
					"enum": intents,
				},
				"confidence": map[string]any{
					"type": "number",
				},
				"extractedData": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"topics": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"frequency": map[string]any{
							"type": "string",
							"enum": []string{string(models.FrequencyDaily), string(models.FrequencyWeekly), frequencyNone},
						},
					},
					"required":             []string{"topics", "frequency"},
					"additionalProperties": false,
				},
			},
			"required":             []string{"intent", "confidence", "extractedData"},
			"additionalProperties": false,
		},
	}
}
