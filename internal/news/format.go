package news

import (
	"fmt"
	"strings"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// MaxWhatsAppLength is the longest body WhatsApp accepts in one message.
const MaxWhatsAppLength = models.MaxMessageBodyLength

var frenchWeekdays = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}

var frenchMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// FormatForWhatsApp truncates content to max runes, ending with "..." when cut.
func FormatForWhatsApp(content string, max int) string {
	if max <= 0 {
		max = MaxWhatsAppLength
	}
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max-3]) + "..."
}

// FrenchLongDate renders t as "lundi 5 mai 2025".
func FrenchLongDate(t time.Time) string {
	return fmt.Sprintf("%s %d %s %d", frenchWeekdays[t.Weekday()], t.Day(), frenchMonths[t.Month()-1], t.Year())
}

// DigestHeader is the first lines of a scheduled synthesis message.
func DigestHeader(f models.Frequency, now time.Time) string {
	title := "Synthèse Hebdomadaire"
	if f == models.FrequencyDaily {
		title = "Synthèse Quotidienne"
	}
	return fmt.Sprintf("📰 **%s**\n%s\n\n", title, FrenchLongDate(now))
}

// articlesDigest renders fetched articles as the model input.
func articlesDigest(groups []TopicArticles) (string, int) {
	var b strings.Builder
	total := 0
	for _, g := range groups {
		if len(g.Articles) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", strings.ToUpper(g.Topic))
		for _, a := range g.Articles {
			body := []rune(a.Body)
			if len(body) > maxBodyRunes {
				body = body[:maxBodyRunes]
			}
			fmt.Fprintf(&b, "\n- **%s**\n  %s\n  Source: %s\n", a.Title, string(body), a.Source)
			total++
		}
	}
	return b.String(), total
}
