package conversation

import "github.com/Hartzala/whatsapp-news-assistant/internal/models"

// AppendTurn adds a turn to the context history, evicting the oldest entries
// beyond models.MaxHistoryTurns.
func AppendTurn(c *models.ConversationContext, role models.Role, content string) {
	c.History = append(c.History, models.Turn{Role: role, Content: content})
	if n := len(c.History); n > models.MaxHistoryTurns {
		c.History = append([]models.Turn{}, c.History[n-models.MaxHistoryTurns:]...)
	}
}

// RecentTurns returns a copy of the last n turns of history, oldest first.
func RecentTurns(history []models.Turn, n int) []models.Turn {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if n > len(history) {
		n = len(history)
	}
	return append([]models.Turn{}, history[len(history)-n:]...)
}
