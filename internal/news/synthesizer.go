package news

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Hartzala/whatsapp-news-assistant/internal/genai"
	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// ErrNoArticles is reported in SynthesisResult.Error when nothing recent was found.
const ErrNoArticles = "no articles found for the given topics"

const questionSystemPrompt = `Tu es un assistant spécialisé qui répond aux questions sur l'actualité.
Ta mission est de répondre DIRECTEMENT à la question posée en te basant sur les articles fournis.
Utilise un ton professionnel mais accessible.
Sois précis et factuel.
Si les articles ne contiennent pas d'information pertinente pour la question, dis-le clairement.
Limite ta réponse à 2000 caractères maximum.`

const digestSystemPrompt = `Tu es un assistant spécialisé dans la synthèse d'actualités.
Ta mission est de créer des résumés clairs, concis et informatifs en français.
Structure ta réponse par thème, en mettant en avant les informations les plus importantes.
Utilise un ton professionnel mais accessible.
Limite ta synthèse à 2000 caractères maximum.`

// Synthesizer turns a synthesis request into text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req models.SynthesisRequest) models.SynthesisResult
}

// PromptGenerator is the subset of genai.Client used for syntheses.
type PromptGenerator interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var _ PromptGenerator = (*genai.Client)(nil)

// LLMSynthesizer fetches articles per topic and asks the model to summarize or answer.
type LLMSynthesizer struct {
	fetcher Fetcher
	gen     PromptGenerator
}

// Compile-time check that LLMSynthesizer implements Synthesizer.
var _ Synthesizer = (*LLMSynthesizer)(nil)

// NewLLMSynthesizer creates a synthesizer.
func NewLLMSynthesizer(fetcher Fetcher, gen PromptGenerator) *LLMSynthesizer {
	return &LLMSynthesizer{fetcher: fetcher, gen: gen}
}

// Synthesize never returns an error; failures are reported in the result.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, req models.SynthesisRequest) models.SynthesisResult {
	groups := FetchByTopics(ctx, s.fetcher, req.Topics, req.ArticlesPerTopic, req.DaysBack)
	digest, total := articlesDigest(groups)
	if total == 0 {
		slog.Info("LLMSynthesizer.Synthesize: no articles", "topics", req.Topics, "days_back", req.DaysBack)
		return models.SynthesisResult{Success: false, Error: ErrNoArticles}
	}

	system, user := digestSystemPrompt, digestUserPrompt(digest)
	if req.Question != "" {
		system, user = questionSystemPrompt, questionUserPrompt(req.Question, digest)
	}
	content, err := s.gen.GeneratePromptWithContext(ctx, system, user)
	if err != nil {
		slog.Error("LLMSynthesizer.Synthesize: generation failed", "articles", total, "error", err)
		return models.SynthesisResult{Success: false, ArticleCount: total, Error: err.Error()}
	}
	slog.Debug("LLMSynthesizer.Synthesize: generated", "articles", total, "chars", len(content))
	return models.SynthesisResult{Success: true, Content: content, ArticleCount: total}
}

func questionUserPrompt(question, digest string) string {
	return fmt.Sprintf("Question de l'utilisateur : \"%s\"\n\nVoici les articles d'actualité récents :\n\n%s\n\nRéponds à la question en te basant sur ces articles. Sois direct et précis.", question, digest)
}

func digestUserPrompt(digest string) string {
	return fmt.Sprintf("Crée une synthèse d'actualités à partir des articles suivants :\n\n%s\n\nOrganise la synthèse par thème et mets en avant les points clés de chaque article.", digest)
}
