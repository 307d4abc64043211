package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// User-facing texts. The product speaks French only.
const (
	ApologyMessage         = "Désolé, une erreur s'est produite. Veuillez réessayer."
	NotUnderstoodMessage   = "Je n'ai pas compris votre message. Pouvez-vous reformuler ?"
	SynthesisFailedMessage = "Désolé, je n'ai pas pu générer une réponse. Veuillez réessayer."

	noArticlesMessage = "Je n'ai pas trouvé d'actualités récentes sur ce sujet. Essayez une autre question ou un thème différent.\n\n" +
		"💡 **Astuce** : Pour recevoir des résumés quotidiens automatiques, tapez \"abonnement\""

	frequencyMissingMessage = "Je n'ai pas bien compris. Préférez-vous :\n" +
		"• **Quotidien** - Résumé de l'actualité de la veille\n" +
		"• **Hebdomadaire** - Résumé des 7 derniers jours"

	priceLabel = "3,99€/mois"
)

// Links are the web pages the bot points users to.
type Links struct {
	Login     string
	Dashboard string
	Checkout  string
}

// DefaultLinks are placeholders until real URLs are configured.
var DefaultLinks = Links{
	Login:     "https://votre-domaine.com",
	Dashboard: "https://votre-domaine.com/dashboard",
	Checkout:  "https://votre-domaine.com/checkout",
}

// GreetingMessage is the menu sent on the first message and on help requests.
func GreetingMessage(freeQuestions int) string {
	return fmt.Sprintf(`Bonjour ! 👋

Je suis votre assistant d'actualités personnalisées. Voici ce que je peux faire pour vous :

**GRATUIT** 🆓
• Posez-moi des questions sur l'actualité, je vous réponds en temps réel
• Limite : %d questions par jour
• Exemple : "Quoi de neuf en technologie ?" ou "Résume-moi l'actualité sportive"

**PREMIUM** ⭐ (%s)
• Recevez des résumés automatiques quotidiens ou hebdomadaires
• Choisissez vos thèmes parmi %d catégories
• Synthèses intelligentes générées par IA
• Questions illimitées

💬 **Essayez gratuitement** : Posez-moi une question !
💳 **Pour vous abonner** : Tapez "abonnement"`, freeQuestions, priceLabel, len(models.CanonicalTopics))
}

// UpsellMessage is returned when the free quota is exhausted.
func UpsellMessage(limit int) string {
	return fmt.Sprintf("❌ Vous avez atteint la limite de %d questions gratuites par jour.\n\n"+
		"💳 **Passez à Premium** pour des questions illimitées et des résumés automatiques !\n"+
		"Tapez \"abonnement\" pour en savoir plus.", limit)
}

func topicList() string {
	lines := make([]string, len(models.CanonicalTopics))
	for i, t := range models.CanonicalTopics {
		lines[i] = "• " + t
	}
	return strings.Join(lines, "\n")
}

func topicsMissingMessage() string {
	return "Je n'ai pas bien compris les thèmes. Voici les catégories disponibles :\n\n" +
		topicList() + "\n\nLesquels vous intéressent ? (ex: \"Technologie, Finance, Sport\")"
}

func topicsInvalidMessage() string {
	return "Je n'ai pas reconnu ces thèmes. Voici les catégories disponibles :\n\n" +
		topicList() + "\n\nLesquels vous intéressent ?"
}

func topicsAcceptedMessage(topics []string) string {
	return fmt.Sprintf("Parfait ! Vous avez choisi : %s\n\n"+
		"Maintenant, à quelle fréquence souhaitez-vous recevoir vos synthèses ?\n"+
		"• **Quotidien** - Résumé de l'actualité de la veille (chaque jour à 8h)\n"+
		"• **Hebdomadaire** - Résumé des 7 derniers jours (chaque lundi à 8h)", strings.Join(topics, ", "))
}

func frequencyAcceptedMessage(f models.Frequency, topics []string) string {
	shown := strings.Join(topics, ", ")
	if shown == "" {
		shown = "aucun pour l'instant"
	}
	return fmt.Sprintf("Excellent ! Vous recevrez une synthèse %s.\n\n"+
		"📋 **Récapitulatif** :\n"+
		"• Thèmes : %s\n"+
		"• Fréquence : %s\n"+
		"• Prix : %s\n\n"+
		"💳 Tapez \"payer\" pour vous abonner et commencer à recevoir vos résumés !", f.Label(), shown, f.Label(), priceLabel)
}

func loginRequiredMessage(l Links) string {
	return fmt.Sprintf("Pour vous abonner, vous devez d'abord vous connecter sur notre site : %s\n\n"+
		"Une fois connecté, revenez ici et tapez \"payer\" pour obtenir votre lien de paiement.", l.Login)
}

func alreadySubscribedMessage(l Links, renewal *time.Time) string {
	status := "Votre abonnement est actif."
	if renewal != nil {
		status = fmt.Sprintf("Votre abonnement est actif jusqu'au %s.", renewal.Format("02/01/2006"))
	}
	return fmt.Sprintf("✅ Vous êtes déjà abonné !\n\n%s\n\nPour gérer votre abonnement, visitez : %s", status, l.Dashboard)
}

func checkoutMessage(l Links) string {
	return fmt.Sprintf("💳 **Lien de paiement**\n\n"+
		"Cliquez sur ce lien pour vous abonner (%s) :\n%s\n\n"+
		"Une fois le paiement effectué, vos résumés commenceront automatiquement ! 🎉", priceLabel, l.Checkout)
}

// answerWithFooter appends the quota footer to a Q&A answer.
func answerWithFooter(answer string, premium bool, remaining int) string {
	if premium {
		return answer + "\n\n---\n⭐ **Premium** (questions : ∞)"
	}
	return fmt.Sprintf("%s\n\n---\n🆓 **Questions restantes aujourd'hui : %d**\nPour des questions illimitées, tapez \"abonnement\"", answer, remaining)
}

const fallbackSystemPromptTemplate = `You are a friendly WhatsApp assistant for a news subscription service.
You help users select news topics and delivery frequency for personalized news summaries.

Current state: %s
Selected topics: %s
Selected frequency: %s
Detected intent: %s

Guidelines:
- Be conversational and friendly
- Use French language
- Keep responses concise (max 2-3 sentences per message)
- Use emojis sparingly
- Guide users through the setup process naturally
- If the user asks about the premium offer, explain it costs %s and that they can type "payer" to subscribe
- Available topics: %s
- Available frequencies: Quotidien (daily), Hebdomadaire (weekly)`

func fallbackSystemPrompt(c models.ConversationContext, in models.Intent) string {
	topics := "none"
	if len(c.SelectedTopics) > 0 {
		topics = strings.Join(c.SelectedTopics, ", ")
	}
	frequency := "not set"
	if c.SelectedFrequency != "" {
		frequency = string(c.SelectedFrequency)
	}
	return fmt.Sprintf(fallbackSystemPromptTemplate, c.State, topics, frequency, in, priceLabel, strings.Join(models.CanonicalTopics, ", "))
}
