package news

import (
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// maxBodyRunes bounds article bodies kept from the feed.
const maxBodyRunes = 300

// defaultSource is used when a title carries no " - Source" suffix.
const defaultSource = "Google News"

var tagPattern = regexp.MustCompile(`<[^>]*>`)

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Source      string `xml:"source"`
}

// parseFeed decodes a Google News RSS document. Items without a parseable date get now.
func parseFeed(data []byte, now time.Time) ([]models.Article, error) {
	var feed rssFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}

	articles := make([]models.Article, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		title, source := splitTitle(strings.TrimSpace(item.Title))
		if source == defaultSource && strings.TrimSpace(item.Source) != "" {
			source = strings.TrimSpace(item.Source)
		}
		articles = append(articles, models.Article{
			Title:       title,
			Body:        cleanBody(item.Description),
			URL:         strings.TrimSpace(item.Link),
			Source:      source,
			PublishedAt: parsePubDate(item.PubDate, now),
		})
	}
	return articles, nil
}

// splitTitle separates the "Title - Source" form used by Google News.
func splitTitle(title string) (string, string) {
	parts := strings.Split(title, " - ")
	if len(parts) < 2 {
		return title, defaultSource
	}
	return strings.Join(parts[:len(parts)-1], " - "), parts[len(parts)-1]
}

// cleanBody strips markup and truncates to maxBodyRunes.
func cleanBody(desc string) string {
	body := tagPattern.ReplaceAllString(html.UnescapeString(desc), "")
	body = strings.TrimSpace(html.UnescapeString(body))
	runes := []rune(body)
	if len(runes) > maxBodyRunes {
		body = string(runes[:maxBodyRunes-3]) + "..."
	}
	return body
}

func parsePubDate(s string, now time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC1123, time.RFC1123Z, time.RFC822Z, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return now
}
